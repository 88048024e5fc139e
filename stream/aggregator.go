// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream converts a stream of incremental agent output
// fragments into a bounded number of outward update actions plus
// exactly one finalize action, so the chat surface's rate limits are
// never overwhelmed.
//
// The aggregator is a small state machine (Idle -> Streaming ->
// Finalized). Every target call happens under one mutex — the
// single-writer lock per output target that makes the ordering
// invariant (finalize never races an update) mechanically enforceable.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ananasregina/GooseBot/lib/clock"
)

// ErrTargetGone is returned by a Target whose underlying conversation
// has been deleted. The aggregator suppresses all further delivery but
// the producing RPC exchange runs to completion.
var ErrTargetGone = errors.New("stream: output target gone")

// Target is the outward message the aggregator writes to. Its identity
// is fixed when the aggregator is created and never changes mid-stream.
type Target interface {
	// Update replaces the visible message text with an intermediate
	// snapshot.
	Update(ctx context.Context, text string) error

	// Finalize replaces the visible message text with the final,
	// complete form. Called exactly once per stream.
	Finalize(ctx context.Context, text string) error
}

type aggregatorState int

const (
	stateIdle aggregatorState = iota
	stateStreaming
	stateFinalized
)

// Config holds the configuration for an Aggregator.
type Config struct {
	// Target receives update and finalize actions.
	Target Target

	// MinFlushInterval is the minimum time between update actions.
	// The very first fragment is always flushed immediately.
	MinFlushInterval time.Duration

	// SizeThreshold forces an update once this many bytes have
	// accumulated since the last flush, regardless of the interval.
	// Zero disables the size trigger.
	SizeThreshold int

	// Clock abstracts time. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default().
	Logger *slog.Logger
}

// Aggregator accumulates fragments for one in-flight turn. Safe for
// concurrent use; in practice fragments arrive from a single goroutine
// and the terminal action from at most one other.
type Aggregator struct {
	target   Target
	interval time.Duration
	sizeMax  int
	clock    clock.Clock
	logger   *slog.Logger

	mu          sync.Mutex
	state       aggregatorState
	buffer      strings.Builder
	lastFlushAt time.Time
	unflushed   int
	suppressed  bool
}

// New creates an Aggregator bound to its output target.
func New(config Config) *Aggregator {
	aggregator := &Aggregator{
		target:   config.Target,
		interval: config.MinFlushInterval,
		sizeMax:  config.SizeThreshold,
		clock:    config.Clock,
		logger:   config.Logger,
	}
	if aggregator.clock == nil {
		aggregator.clock = clock.Real()
	}
	if aggregator.logger == nil {
		aggregator.logger = slog.Default()
	}
	return aggregator
}

// Append accumulates one fragment and flushes an update when due: on
// the very first fragment, once MinFlushInterval has elapsed since the
// last flush, or once SizeThreshold bytes have accumulated. Fragments
// arriving after finalization are dropped (a turn abandoned on timeout
// can still be producing).
func (a *Aggregator) Append(ctx context.Context, fragment string) {
	if fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateFinalized {
		return
	}

	a.buffer.WriteString(fragment)
	a.unflushed += len(fragment)

	now := a.clock.Now()
	first := a.state == stateIdle
	due := first ||
		now.Sub(a.lastFlushAt) >= a.interval ||
		(a.sizeMax > 0 && a.unflushed >= a.sizeMax)
	if !due {
		return
	}

	a.state = stateStreaming
	a.flushLocked(ctx, now)
}

// flushLocked emits one update action. Must be called with a.mu held.
func (a *Aggregator) flushLocked(ctx context.Context, now time.Time) {
	a.lastFlushAt = now
	a.unflushed = 0

	if a.suppressed {
		return
	}
	if err := a.target.Update(ctx, a.buffer.String()); err != nil {
		if errors.Is(err, ErrTargetGone) {
			a.suppressed = true
			a.logger.Info("output target gone, suppressing further delivery")
			return
		}
		a.logger.Warn("streamed update failed", "error", err)
	}
}

// Finish emits the single finalize action with the full accumulated
// text. Never throttled. If no content arrived, emptyText is used
// instead. Idempotent: only the first terminal action wins.
func (a *Aggregator) Finish(ctx context.Context, emptyText string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateFinalized {
		return
	}
	a.state = stateFinalized

	text := a.buffer.String()
	if text == "" {
		text = emptyText
	}
	a.finalizeLocked(ctx, text)
}

// FinishError emits the finalize action for a failed turn: the partial
// text (when any arrived) with the error indicator appended, rather
// than discarding accumulated output.
func (a *Aggregator) FinishError(ctx context.Context, userMessage string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == stateFinalized {
		return
	}
	a.state = stateFinalized

	text := "❌ " + userMessage
	if partial := a.buffer.String(); partial != "" {
		text = partial + "\n\n❌ " + userMessage
	}
	a.finalizeLocked(ctx, text)
}

// finalizeLocked emits the finalize action. Must be called with a.mu
// held, after the state transition to Finalized.
func (a *Aggregator) finalizeLocked(ctx context.Context, text string) {
	if a.suppressed {
		return
	}
	if err := a.target.Finalize(ctx, text); err != nil && !errors.Is(err, ErrTargetGone) {
		a.logger.Warn("finalize failed", "error", err)
	}
}

// Text returns the accumulated text so far.
func (a *Aggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer.String()
}
