package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide call counter.
var Stats = &stats{}

type stats struct {
	CallsStarted    atomic.Int64 // sessions created (invite sent or received)
	CallsConnected  atomic.Int64 // sessions that reached connected at least once
	CallsFailed     atomic.Int64 // sessions that ended in failed
	Reconnects      atomic.Int64 // connected → reconnecting transitions
	RecordingsSaved atomic.Int64 // artifacts accepted by the store
	RecordedBytes   atomic.Int64 // cumulative artifact size
}

func (s *stats) AddCall()       { s.CallsStarted.Add(1) }
func (s *stats) AddConnected()  { s.CallsConnected.Add(1) }
func (s *stats) AddFailed()     { s.CallsFailed.Add(1) }
func (s *stats) AddReconnect()  { s.Reconnects.Add(1) }
func (s *stats) AddRecording(n int) {
	s.RecordingsSaved.Add(1)
	s.RecordedBytes.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics every
// interval whenever something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev string
		for {
			select {
			case <-ticker.C:
				line := formatStats(
					Stats.CallsStarted.Load(),
					Stats.CallsConnected.Load(),
					Stats.CallsFailed.Load(),
					Stats.Reconnects.Load(),
					Stats.RecordingsSaved.Load(),
					Stats.RecordedBytes.Load(),
				)
				if line != prev {
					pterm.DefaultLogger.Info(line)
					prev = line
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted line of the call counters for the logger.
func formatStats(started, connected, failed, reconnects, recordings, bytes int64) string {
	return fmt.Sprintf("Calls: %d started | %d connected | %d failed | %d reconnects | Rec: %d (%s)",
		started, connected, failed, reconnects, recordings, formatBytes(float64(bytes)))
}
