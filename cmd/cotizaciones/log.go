package main

import (
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goliatone/go-cotizaciones/snapshot"
)

var _ snapshot.Logger = (*log.Logger)(nil)

// newLogger writes timestamped entries to w at or above level.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
		Prefix:          "cotizaciones",
	})
}

// levelFor resolves the configured level; verbose always wins.
func levelFor(name string, verbose bool) log.Level {
	if verbose {
		return log.DebugLevel
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}
