package app

const (
	Name           = "rfbridge"
	ConfigFilename = "config.json"
	DBFilename     = "telemetry.db"
	LogFilename    = "rfbridge.log"
)
