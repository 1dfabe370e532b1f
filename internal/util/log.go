package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// CallLog prefixes every line with a shortened call id, e.g. "[3f2a9c1e] ...".
type CallLog string

// NewCallLog returns a CallLog for callID.
func NewCallLog(callID string) CallLog {
	if len(callID) > 8 {
		callID = callID[:8]
	}
	return CallLog("[" + callID + "] ")
}

func (l CallLog) Debug(format string, args ...any) { LogDebug(string(l)+format, args...) }
func (l CallLog) Info(format string, args ...any)  { LogInfo(string(l)+format, args...) }
func (l CallLog) Warn(format string, args ...any)  { LogWarning(string(l)+format, args...) }
func (l CallLog) Error(format string, args ...any) { LogError(string(l)+format, args...) }
