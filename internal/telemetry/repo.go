package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sample is one persisted signal quality report. LQI keeps the raw quality
// byte from the air, so the CRC flag in the high bit is retained.
type Sample struct {
	At         time.Time
	RSSI       int
	LQI        int
	PayloadLen int
}

type SampleRepo struct {
	db *sql.DB
}

func NewSampleRepo(db *sql.DB) *SampleRepo {
	return &SampleRepo{db: db}
}

func (r *SampleRepo) Insert(ctx context.Context, s Sample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO link_quality(at, rssi, lqi, payload_len)
		VALUES (?, ?, ?, ?)
	`, toUnixMillis(s.At), s.RSSI, s.LQI, s.PayloadLen)
	if err != nil {
		return fmt.Errorf("insert link quality sample: %w", err)
	}
	return nil
}

// ListRecent returns the newest samples first, at most limit of them.
func (r *SampleRepo) ListRecent(ctx context.Context, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT at, rssi, lqi, payload_len
		FROM link_quality
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list link quality samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			s    Sample
			atMs int64
		)
		if err := rows.Scan(&atMs, &s.RSSI, &s.LQI, &s.PayloadLen); err != nil {
			return nil, fmt.Errorf("scan link quality sample: %w", err)
		}
		s.At = fromUnixMillis(atMs)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate link quality samples: %w", err)
	}
	return out, nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
