package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/example/astro-consult/internal/application"
)

func TestClock(t *testing.T) {
	clock := NewClock(time.Time{})
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("zero start should use the reference time, got %s", clock.Now())
	}

	updated := clock.Advance(90 * time.Minute)
	if want := ReferenceTime().Add(90 * time.Minute); !updated.Equal(want) {
		t.Fatalf("Advance returned %s, want %s", updated, want)
	}
	if !clock.Now().Equal(updated) {
		t.Fatal("Now does not reflect the advanced time")
	}
}

func TestIDGenerator(t *testing.T) {
	gen := NewIDGenerator("consult")
	if got := gen.Next(); got != "consult-1" {
		t.Fatalf("first id = %q", got)
	}
	if got := gen.Next(); got != "consult-2" {
		t.Fatalf("second id = %q", got)
	}

	var nilGen *IDGenerator
	if got := nilGen.NextFunc()(); got != "" {
		t.Fatalf("nil generator returned %q", got)
	}
}

func TestFixtures_UniqueAndOverridable(t *testing.T) {
	first := NewConsultationFixture()
	second := NewConsultationFixture(
		WithStatus(application.StatusLive),
		WithParticipants("user-x", "astro-y"),
	)

	if first.ID == second.ID {
		t.Fatalf("fixtures share id %q", first.ID)
	}
	if second.Status != application.StatusLive {
		t.Fatalf("status override ignored: %s", second.Status)
	}
	if second.UserID != "user-x" || second.AstrologerID != "astro-y" {
		t.Fatalf("participant override ignored: %+v", second)
	}
	if first.SharedSecret == "" || len(first.SharedSecret) != 64 {
		t.Fatalf("default secret is not 32 hex bytes: %q", first.SharedSecret)
	}
}

func TestSQLiteHarness_RoundTrip(t *testing.T) {
	harness := NewSQLiteHarness(t)
	ctx := context.Background()

	consultation := NewConsultationFixture()
	if err := harness.Consultations.CreateConsultation(ctx, consultation.ToPersistence()); err != nil {
		t.Fatalf("CreateConsultation returned error: %v", err)
	}

	message := NewMessageFixture(consultation)
	if _, err := harness.Messages.AppendMessage(ctx, message.ToPersistence()); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}

	stored, err := harness.Messages.ListMessages(ctx, consultation.ID)
	if err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != message.ID {
		t.Fatalf("unexpected stored messages: %+v", stored)
	}
}
