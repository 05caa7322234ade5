package audit

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/persondata/internal/anonymizer"
)

func TestFromEvent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := anonymizer.Event{
		ID:             "2b1c6a52-8f59-4a8e-9a61-3f0a8c1d2e4f",
		RequestID:      "req-1",
		Operation:      anonymizer.OperationAnonymize,
		Mode:           anonymizer.ModePatterns,
		Labels:         []string{"name", "phone"},
		InputBytes:     29,
		Replacements:   2,
		Duration:       1500 * time.Microsecond,
		FallbackReason: "model_load_timeout",
		Timestamp:      ts,
	}

	r := FromEvent(ev)
	if r.ID != ev.ID || r.RequestID != "req-1" || r.Mode != anonymizer.ModePatterns {
		t.Errorf("record = %+v", r)
	}
	if !reflect.DeepEqual([]string(r.Labels), ev.Labels) {
		t.Errorf("labels = %v", r.Labels)
	}
	if r.DurationMs != 1.5 {
		t.Errorf("duration = %v", r.DurationMs)
	}
	if !r.CreatedAt.Equal(ts) {
		t.Errorf("created = %v", r.CreatedAt)
	}

	t.Run("defaults", func(t *testing.T) {
		r := FromEvent(anonymizer.Event{Operation: anonymizer.OperationDetect})
		if _, err := uuid.Parse(r.ID); err != nil {
			t.Errorf("id %q: %v", r.ID, err)
		}
		if r.Labels == nil || r.CreatedAt.IsZero() {
			t.Errorf("record = %+v", r)
		}
	})
}

func TestBuildInsert(t *testing.T) {
	records := []Record{
		FromEvent(anonymizer.Event{Operation: anonymizer.OperationAnonymize}),
		FromEvent(anonymizer.Event{Operation: anonymizer.OperationDetect}),
	}

	query, args := buildInsert(records)
	if len(args) != 2*insertColumns {
		t.Fatalf("got %d args", len(args))
	}
	if !strings.Contains(query, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11),($12,") {
		t.Errorf("unexpected placeholders in %s", query)
	}
	if !strings.Contains(query, "ON CONFLICT (id) DO NOTHING") {
		t.Error("missing conflict clause")
	}
	if args[2] != anonymizer.OperationAnonymize || args[insertColumns+2] != anonymizer.OperationDetect {
		t.Errorf("args = %v", args)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://audit:hunter2@db:5432/persondata?sslmode=disable")
	if got != "postgres://audit:***@db:5432/persondata?sslmode=disable" {
		t.Errorf("got %q", got)
	}
	if got := maskDatabaseURL("postgres://db/persondata"); got != "postgres://db/persondata" {
		t.Errorf("got %q", got)
	}
}
