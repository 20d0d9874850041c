package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogSwallowsRecorderFailure(t *testing.T) {
	failing := RecorderFunc(func(_ context.Context, _ Event) error {
		return errors.New("store down")
	})
	l := NewLog(failing, zerolog.Nop())

	// Must not panic or surface the error.
	l.Record(context.Background(), Event{Actor: "u1", Action: "check-in"})
}

func TestLogFillsDefaults(t *testing.T) {
	var got Event
	rec := RecorderFunc(func(_ context.Context, e Event) error {
		got = e
		return nil
	})
	l := NewLog(rec, zerolog.Nop())

	l.Record(context.Background(), Event{Actor: "u1", Action: "start", ResourceType: "appointment"})
	if got.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected generated event id")
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestLogWithNilRecorder(t *testing.T) {
	l := NewLog(nil, zerolog.Nop())
	l.Record(context.Background(), Event{Action: "cancel"})
}
