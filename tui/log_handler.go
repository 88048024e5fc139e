// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui is the optional terminal dashboard: a scrolling view of
// the bot's structured log plus a header summarizing session activity.
// It exists for operators running the bot in a foreground terminal;
// the bot works identically without it.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

// logLineMsg delivers one formatted slog record to the model.
type logLineMsg struct {
	Line  string
	Level slog.Level
}

// LogHandler is a slog.Handler that routes records into a bubbletea
// program as messages. Records below the configured level are dropped,
// as are records arriving before SetProgram is called.
//
// Handlers derived via WithAttrs/WithGroup share the same program
// pointer, so a single SetProgram call covers every derived handler.
type LogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
}

// NewLogHandler creates a handler delivering records at or above the
// given level. Call SetProgram once the tea.Program exists.
func NewLogHandler(level slog.Level) *LogHandler {
	return &LogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram sets the bubbletea program that receives log messages.
// Safe to call from any goroutine.
func (handler *LogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

// Enabled reports whether the handler wants records at this level.
func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle formats the record as one line and sends it to the program.
func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}

	var builder strings.Builder
	builder.WriteString(record.Time.Format("15:04:05"))
	builder.WriteByte(' ')
	builder.WriteString(record.Level.String())
	builder.WriteByte(' ')
	builder.WriteString(record.Message)
	for _, attr := range handler.attrs {
		fmt.Fprintf(&builder, " %s=%s", attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		fmt.Fprintf(&builder, " %s=%s", attr.Key, attr.Value)
		return true
	})

	program.Send(logLineMsg{Line: builder.String(), Level: record.Level})
	return nil
}

// WithAttrs returns a derived handler with the attributes appended.
// It shares the program pointer with its parent.
func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		level:   handler.level,
		program: handler.program,
		attrs:   append(slices.Clone(handler.attrs), attrs...),
	}
}

// WithGroup returns the handler unchanged; the dashboard's flat line
// format does not render groups.
func (handler *LogHandler) WithGroup(string) slog.Handler {
	return handler
}
