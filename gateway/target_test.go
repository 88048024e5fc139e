// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/ananasregina/GooseBot/stream"
)

// roomRecorder plays a homeserver that records every message event and
// hands out sequential event ids.
type roomRecorder struct {
	mu     sync.Mutex
	events []MessageContent
	fail   string // when set, every send fails with this errcode
}

func (r *roomRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		if r.fail != "" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"errcode":%q,"error":"gone"}`, r.fail)
			return
		}
		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.events = append(r.events, content)
		sequence := len(r.events)
		r.mu.Unlock()
		fmt.Fprintf(w, `{"event_id":"$ev%d"}`, sequence)
	})
}

func (r *roomRecorder) recorded() []MessageContent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MessageContent(nil), r.events...)
}

func TestTargetSendsOnceThenEdits(t *testing.T) {
	recorder := &roomRecorder{}
	client := newTestClient(t, recorder.handler())
	target := NewTarget(client, "!room:example.org")
	ctx := context.Background()

	if err := target.Update(ctx, "Hel"); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if err := target.Update(ctx, "Hello wo"); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if err := target.Finalize(ctx, "Hello world"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	events := recorder.recorded()
	if len(events) != 3 {
		t.Fatalf("recorded %d events, want 3", len(events))
	}
	if events[0].RelatesTo != nil {
		t.Error("first delivery is an edit, want a plain send")
	}
	for i, event := range events[1:] {
		if event.RelatesTo == nil || event.RelatesTo.RelType != "m.replace" || event.RelatesTo.EventID != "$ev1" {
			t.Errorf("delivery %d relates_to = %+v, want m.replace of $ev1", i+2, event.RelatesTo)
		}
	}
	if events[2].NewContent == nil || events[2].NewContent.Body != "Hello world" {
		t.Errorf("final content = %+v", events[2].NewContent)
	}
}

func TestTargetGoneOnVanishedRoom(t *testing.T) {
	recorder := &roomRecorder{fail: ErrCodeNotFound}
	client := newTestClient(t, recorder.handler())
	target := NewTarget(client, "!gone:example.org")

	err := target.Update(context.Background(), "anyone home?")
	if !errors.Is(err, stream.ErrTargetGone) {
		t.Fatalf("err = %v, want ErrTargetGone", err)
	}
}

func TestTargetPassesThroughTransientErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"errcode":"M_LIMIT_EXCEEDED","error":"slow down"}`)
	}))
	target := NewTarget(client, "!room:example.org")

	err := target.Update(context.Background(), "text")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, stream.ErrTargetGone) {
		t.Error("rate limit mapped to ErrTargetGone; the stream would be wrongly abandoned")
	}
}
