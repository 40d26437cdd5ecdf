package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/astro-consult/internal/crypto"
	"github.com/example/astro-consult/internal/persistence"
)

type resolverStub struct {
	consultations map[string]Consultation
}

func (r *resolverStub) GetConsultation(ctx context.Context, id string) (Consultation, error) {
	consultation, ok := r.consultations[id]
	if !ok {
		return Consultation{}, persistence.ErrNotFound
	}
	return consultation, nil
}

type messageRepoStub struct {
	mu       sync.Mutex
	appended []Message

	appendErrs []error // consumed per call; nil entry means success
	listErr    error
}

func (r *messageRepoStub) AppendMessage(ctx context.Context, message Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.appendErrs) > 0 {
		err := r.appendErrs[0]
		r.appendErrs = r.appendErrs[1:]
		if err != nil {
			return Message{}, err
		}
	}
	r.appended = append(r.appended, message)
	return message, nil
}

func (r *messageRepoStub) ListMessages(ctx context.Context, consultationID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Message
	for _, message := range r.appended {
		if message.ConsultationID == consultationID {
			out = append(out, message)
		}
	}
	return out, nil
}

type brokerStub struct {
	mu     sync.Mutex
	events []MessageEvent
	rooms  []string
	err    error
}

func (b *brokerStub) Publish(ctx context.Context, roomID string, event MessageEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.rooms = append(b.rooms, roomID)
	b.events = append(b.events, event)
	return nil
}

func liveConsultation(id string) Consultation {
	consultation := storedConsultation(id, StatusLive)
	consultation.SharedSecret = strings.Repeat("0a", crypto.KeyBytes)
	return consultation
}

func newMessagingFixture(consultation Consultation) (*MessagingService, *messageRepoStub, *brokerStub) {
	resolver := &resolverStub{consultations: map[string]Consultation{consultation.ID: consultation}}
	messages := &messageRepoStub{}
	broker := &brokerStub{}
	var mu sync.Mutex
	counter := 0
	idGen := func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("msg-%d", counter)
	}
	svc := NewMessagingService(resolver, messages, broker, idGen, fixedClock(testNow))
	return svc, messages, broker
}

func TestMessagingService_Send(t *testing.T) {
	user := Participant{ID: "user-1", Role: RoleUser}

	t.Run("stores ciphertext and fans out plaintext", func(t *testing.T) {
		svc, messages, broker := newMessagingFixture(liveConsultation("consult-1"))

		stored, warnings, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         user,
			Text:           "hello",
		})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if len(warnings) != 0 {
			t.Fatalf("unexpected warnings: %+v", warnings)
		}

		if stored.ID != "msg-1" {
			t.Errorf("id: got %q", stored.ID)
		}
		if stored.ReceiverID != "astro-1" || stored.ReceiverRole != RoleAstrologer {
			t.Errorf("receiver not resolved as complement: %s/%s", stored.ReceiverID, stored.ReceiverRole)
		}
		if len(stored.IV) != crypto.IVBytes {
			t.Errorf("iv is %d bytes", len(stored.IV))
		}
		if len(stored.Ciphertext) == 0 || bytes.Contains(stored.Ciphertext, []byte("hello")) {
			t.Error("plaintext leaked into the stored record")
		}
		if len(messages.appended) != 1 {
			t.Fatalf("expected 1 appended message, got %d", len(messages.appended))
		}

		if len(broker.events) != 1 {
			t.Fatalf("expected 1 published event, got %d", len(broker.events))
		}
		if broker.rooms[0] != "consult-1" {
			t.Errorf("published to room %q", broker.rooms[0])
		}
		if broker.events[0].Text != "hello" {
			t.Errorf("realtime payload carries %q, want plaintext", broker.events[0].Text)
		}
	})

	t.Run("astrologer sends back to the user", func(t *testing.T) {
		svc, _, broker := newMessagingFixture(liveConsultation("consult-1"))

		stored, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         Participant{ID: "astro-1", Role: RoleAstrologer},
			Text:           "the stars say yes",
		})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if stored.ReceiverID != "user-1" || stored.ReceiverRole != RoleUser {
			t.Fatalf("receiver: %s/%s", stored.ReceiverID, stored.ReceiverRole)
		}
		if broker.events[0].SenderRole != RoleAstrologer {
			t.Fatalf("event sender role: %s", broker.events[0].SenderRole)
		}
	})

	t.Run("rejected outside the live state", func(t *testing.T) {
		for _, status := range []Status{StatusScheduled, StatusCompleted, StatusCanceled} {
			consultation := liveConsultation("consult-1")
			consultation.Status = status
			svc, messages, _ := newMessagingFixture(consultation)

			_, _, err := svc.Send(context.Background(), SendMessageParams{
				ConsultationID: "consult-1",
				Sender:         user,
				Text:           "too late",
			})
			if !errors.Is(err, ErrNotLive) {
				t.Fatalf("status %s: expected ErrNotLive, got %v", status, err)
			}
			if len(messages.appended) != 0 {
				t.Fatalf("status %s: message persisted despite gate", status)
			}
		}
	})

	t.Run("unknown consultation yields ErrNotFound", func(t *testing.T) {
		svc, _, _ := newMessagingFixture(liveConsultation("consult-1"))
		_, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "missing",
			Sender:         user,
			Text:           "anyone there?",
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("outsiders cannot send", func(t *testing.T) {
		svc, _, _ := newMessagingFixture(liveConsultation("consult-1"))
		_, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         Participant{ID: "user-9", Role: RoleUser},
			Text:           "let me in",
		})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("bad secret surfaces ErrInvalidKeyLength", func(t *testing.T) {
		consultation := liveConsultation("consult-1")
		consultation.SharedSecret = "abcd"
		svc, _, _ := newMessagingFixture(consultation)

		_, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         user,
			Text:           "hello",
		})
		if !errors.Is(err, crypto.ErrInvalidKeyLength) {
			t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
		}
	})

	t.Run("broker failure degrades delivery without unwinding the append", func(t *testing.T) {
		svc, messages, broker := newMessagingFixture(liveConsultation("consult-1"))
		broker.err = errors.New("broker unavailable")

		stored, warnings, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         user,
			Text:           "hello",
		})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if len(warnings) != 1 {
			t.Fatalf("expected one delivery warning, got %+v", warnings)
		}
		if len(messages.appended) != 1 || messages.appended[0].ID != stored.ID {
			t.Fatal("message not persisted despite broker failure")
		}
	})
}

func TestMessagingService_SendStorageRetry(t *testing.T) {
	user := Participant{ID: "user-1", Role: RoleUser}

	t.Run("transient timeout is retried once", func(t *testing.T) {
		svc, messages, _ := newMessagingFixture(liveConsultation("consult-1"))
		messages.appendErrs = []error{context.DeadlineExceeded, nil}
		var slept []time.Duration
		svc.sleep = func(d time.Duration) { slept = append(slept, d) }

		_, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         user,
			Text:           "hello",
		})
		if err != nil {
			t.Fatalf("Send failed after transient timeout: %v", err)
		}
		if len(slept) != 1 || slept[0] != defaultRetryBackoff {
			t.Fatalf("expected one backoff of %v, got %v", defaultRetryBackoff, slept)
		}
		if len(messages.appended) != 1 {
			t.Fatalf("expected the retried append to land, got %d", len(messages.appended))
		}
	})

	t.Run("persistent timeout surfaces ErrStorageTimeout", func(t *testing.T) {
		svc, messages, _ := newMessagingFixture(liveConsultation("consult-1"))
		messages.appendErrs = []error{context.DeadlineExceeded, context.DeadlineExceeded}
		svc.sleep = func(time.Duration) {}

		_, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         user,
			Text:           "hello",
		})
		if !errors.Is(err, ErrStorageTimeout) {
			t.Fatalf("expected ErrStorageTimeout, got %v", err)
		}
		if len(messages.appended) != 0 {
			t.Fatal("append unexpectedly recorded")
		}
	})

	t.Run("non-timeout errors are not retried", func(t *testing.T) {
		svc, messages, _ := newMessagingFixture(liveConsultation("consult-1"))
		boom := errors.New("disk on fire")
		messages.appendErrs = []error{boom}
		retried := false
		svc.sleep = func(time.Duration) { retried = true }

		_, _, err := svc.Send(context.Background(), SendMessageParams{
			ConsultationID: "consult-1",
			Sender:         user,
			Text:           "hello",
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the storage error, got %v", err)
		}
		if retried {
			t.Fatal("non-timeout error triggered a retry")
		}
	})
}

func TestMessagingService_List(t *testing.T) {
	user := Participant{ID: "user-1", Role: RoleUser}
	astrologer := Participant{ID: "astro-1", Role: RoleAstrologer}

	seed := func(t *testing.T, svc *MessagingService, texts ...string) {
		t.Helper()
		for i, text := range texts {
			sender := user
			if i%2 == 1 {
				sender = astrologer
			}
			if _, _, err := svc.Send(context.Background(), SendMessageParams{
				ConsultationID: "consult-1",
				Sender:         sender,
				Text:           text,
			}); err != nil {
				t.Fatalf("seed send %d: %v", i, err)
			}
		}
	}

	t.Run("returns the decrypted thread in order", func(t *testing.T) {
		svc, _, _ := newMessagingFixture(liveConsultation("consult-1"))
		seed(t, svc, "hello", "greetings", "what does my chart say?")

		thread, err := svc.List(context.Background(), user, "consult-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(thread) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(thread))
		}
		for i, want := range []string{"hello", "greetings", "what does my chart say?"} {
			if thread[i].Text != want {
				t.Errorf("position %d: got %q, want %q", i, thread[i].Text, want)
			}
			if thread[i].Corrupted {
				t.Errorf("position %d flagged corrupted", i)
			}
		}
		if thread[1].SenderRole != RoleAstrologer {
			t.Errorf("second message sender role: %s", thread[1].SenderRole)
		}
	})

	t.Run("a corrupt record is marked, not fatal", func(t *testing.T) {
		svc, messages, _ := newMessagingFixture(liveConsultation("consult-1"))
		seed(t, svc, "first", "second", "third")

		messages.appended[1].Ciphertext = []byte{0x01, 0x02}

		thread, err := svc.List(context.Background(), user, "consult-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(thread) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(thread))
		}
		if !thread[1].Corrupted || thread[1].Text != "" {
			t.Fatalf("expected the middle record marked corrupted, got %+v", thread[1])
		}
		if thread[0].Text != "first" || thread[2].Text != "third" {
			t.Fatal("healthy records were not returned")
		}
	})

	t.Run("outsiders cannot list", func(t *testing.T) {
		svc, _, _ := newMessagingFixture(liveConsultation("consult-1"))
		if _, err := svc.List(context.Background(), Participant{ID: "user-9", Role: RoleUser}, "consult-1"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("unknown consultation yields ErrNotFound", func(t *testing.T) {
		svc, _, _ := newMessagingFixture(liveConsultation("consult-1"))
		if _, err := svc.List(context.Background(), user, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("participants may list outside the live state", func(t *testing.T) {
		consultation := liveConsultation("consult-1")
		svc, _, _ := newMessagingFixture(consultation)
		seed(t, svc, "kept for the record")

		// Completing the consultation must not hide history.
		completed := consultation
		completed.Status = StatusCompleted
		svc.consultations = &resolverStub{consultations: map[string]Consultation{"consult-1": completed}}

		thread, err := svc.List(context.Background(), user, "consult-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(thread) != 1 || thread[0].Text != "kept for the record" {
			t.Fatalf("unexpected thread: %+v", thread)
		}
	})
}

func TestMessagingService_ConcurrentSends(t *testing.T) {
	svc, _, _ := newMessagingFixture(liveConsultation("consult-1"))

	const senders = 10
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Send(context.Background(), SendMessageParams{
				ConsultationID: "consult-1",
				Sender:         Participant{ID: "user-1", Role: RoleUser},
				Text:           fmt.Sprintf("message %d", i),
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Send failed: %v", err)
	}

	thread, err := svc.List(context.Background(), Participant{ID: "user-1", Role: RoleUser}, "consult-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(thread) != senders {
		t.Fatalf("expected %d messages, got %d", senders, len(thread))
	}

	seen := make(map[string]bool, senders)
	for _, item := range thread {
		if item.Corrupted {
			t.Fatalf("message %s corrupted", item.ID)
		}
		if seen[item.Text] {
			t.Fatalf("duplicate message %q", item.Text)
		}
		seen[item.Text] = true
	}
}
