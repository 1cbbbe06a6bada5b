package link

import (
	"bytes"
	"context"
	"testing"
	"time"

	"rfbridge/internal/bus"
	"rfbridge/internal/radio"
	"rfbridge/internal/serial"
)

// startBridge wires a full link over a simulated radio endpoint and an
// in-memory serial pipe and starts its run loop. The loop is stopped via
// t.Cleanup.
func startBridge(t *testing.T, air *radio.Air) (*Link, *serial.Pipe) {
	t.Helper()

	logger := testLogger()
	pipe := serial.NewPipe()
	endpoint := air.NewEndpoint()
	l := New(logger, bus.New(logger), pipe, endpoint)
	pipe.SetHandler(l)
	endpoint.SetHandler(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("run loop did not stop")
		}
	})

	// Packets sent before the loop enables receive mode would be lost on
	// the air, so wait for the endpoint to start listening.
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := endpoint.Strobe(radio.StrobeNop)
		if err == nil && status.State() == radio.StateReceiving {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("bridge never entered receive mode")
		}
		time.Sleep(time.Millisecond)
	}

	return l, pipe
}

// waitForOutput polls the pipe until its sent log equals want.
func waitForOutput(t *testing.T, pipe *serial.Pipe, want []byte) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bytes.Equal(pipe.Sent(), want) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("serial output = %q, want %q", pipe.Sent(), want)
}

func TestBridgeForwardsBothDirections(t *testing.T) {
	air := radio.NewAir()
	_, pipeA := startBridge(t, air)
	_, pipeB := startBridge(t, air)

	pipeA.Inject([]byte("hi\n"))
	waitForOutput(t, pipeB, []byte("hi\n42 128\n"))

	pipeB.Inject([]byte("ok\n"))
	waitForOutput(t, pipeA, []byte("ok\n42 128\n"))
}

func TestBridgeFlushesUndelimitedInputAfterSilence(t *testing.T) {
	air := radio.NewAir()
	_, pipeA := startBridge(t, air)
	_, pipeB := startBridge(t, air)

	pipeA.Inject([]byte("abc"))
	waitForOutput(t, pipeB, []byte("abc42 128\n"))
}

func TestBridgeDropsCorruptedPacketAndRecovers(t *testing.T) {
	air := radio.NewAir()
	_, pipeA := startBridge(t, air)
	_, pipeB := startBridge(t, air)

	air.CorruptNext()
	pipeA.Inject([]byte("yo\n"))

	// The corrupted packet fails its CRC check on the receiver and must
	// not reach the serial side; give the receiver time to process it.
	time.Sleep(50 * time.Millisecond)
	if got := pipeB.Sent(); len(got) != 0 {
		t.Fatalf("corrupted packet leaked to serial output: %q", got)
	}

	// The receiver reinitializes its radio and keeps working.
	pipeA.Inject([]byte("ok\n"))
	waitForOutput(t, pipeB, []byte("ok\n42 128\n"))
}

func TestBridgeReportsConfiguredSignalValues(t *testing.T) {
	air := radio.NewAir()
	air.SetSignal(110, 7)
	_, pipeA := startBridge(t, air)
	_, pipeB := startBridge(t, air)

	pipeA.Inject([]byte("hi\n"))
	waitForOutput(t, pipeB, []byte("hi\n110 135\n"))
}
