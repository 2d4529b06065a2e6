// Package telemetry provides the component-prefixed loggers and the
// prometheus metrics registry shared by every package in this module.
package telemetry

import (
	"log"
	"os"
)

// NewLogger returns a component-prefixed logger, matching the pattern used
// throughout the original server handlers (log.New(log.Writer(), "[X] ", log.LstdFlags)).
func NewLogger(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}
