package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"cartrita/internal/domain"
)

func newTestTransport() *Inproc {
	return NewInproc(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func msgTo(topic, id string) domain.Message {
	return domain.Message{ID: id, Sender: "test", Recipient: topic, Type: domain.MessageEvent}
}

func TestPublishSubscribe(t *testing.T) {
	tr := newTestTransport()

	var got []string
	tr.Subscribe("writer", func(_ context.Context, m domain.Message) error {
		got = append(got, m.ID)
		return nil
	})

	if err := tr.Publish(context.Background(), msgTo("writer", "m1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || got[0] != "m1" {
		t.Fatalf("got %v, want [m1]", got)
	}
}

func TestTopicIsolation(t *testing.T) {
	tr := newTestTransport()

	var writer, research int
	tr.Subscribe("writer", func(_ context.Context, _ domain.Message) error {
		writer++
		return nil
	})
	tr.Subscribe("research", func(_ context.Context, _ domain.Message) error {
		research++
		return nil
	})

	tr.Publish(context.Background(), msgTo("writer", "m1"))
	tr.Publish(context.Background(), msgTo("writer", "m2"))
	tr.Publish(context.Background(), msgTo("research", "m3"))

	if writer != 2 || research != 1 {
		t.Errorf("writer=%d research=%d, want 2 and 1", writer, research)
	}
}

func TestFIFOPerTopic(t *testing.T) {
	tr := newTestTransport()

	var order []string
	tr.Subscribe("writer", func(_ context.Context, m domain.Message) error {
		order = append(order, m.ID)
		return nil
	})

	for _, id := range []string{"a", "b", "c", "d"} {
		tr.Publish(context.Background(), msgTo("writer", id))
	}
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", order, want)
		}
	}
}

func TestHandlerErrorIsolation(t *testing.T) {
	tr := newTestTransport()

	var delivered int
	tr.Subscribe("writer", func(_ context.Context, _ domain.Message) error {
		return errors.New("boom")
	})
	tr.Subscribe("writer", func(_ context.Context, _ domain.Message) error {
		delivered++
		return nil
	})

	if err := tr.Publish(context.Background(), msgTo("writer", "m1")); err != nil {
		t.Fatalf("Publish must not surface handler errors: %v", err)
	}
	if delivered != 1 {
		t.Errorf("sibling subscriber not reached, delivered=%d", delivered)
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	tr := newTestTransport()

	var delivered int
	tr.Subscribe("writer", func(_ context.Context, _ domain.Message) error {
		panic("handler bug")
	})
	tr.Subscribe("writer", func(_ context.Context, _ domain.Message) error {
		delivered++
		return nil
	})

	if err := tr.Publish(context.Background(), msgTo("writer", "m1")); err != nil {
		t.Fatalf("Publish after panic: %v", err)
	}
	if delivered != 1 {
		t.Errorf("panicking subscriber blocked sibling, delivered=%d", delivered)
	}
}

func TestUnsubscribe(t *testing.T) {
	tr := newTestTransport()

	var count int
	unsub := tr.Subscribe("writer", func(_ context.Context, _ domain.Message) error {
		count++
		return nil
	})

	tr.Publish(context.Background(), msgTo("writer", "m1"))
	unsub()
	tr.Publish(context.Background(), msgTo("writer", "m2"))

	if count != 1 {
		t.Errorf("count=%d, want 1 after unsubscribe", count)
	}
}

func TestPublishAfterClose(t *testing.T) {
	tr := newTestTransport()
	tr.Close()
	tr.Close() // idempotent

	err := tr.Publish(context.Background(), msgTo("writer", "m1"))
	if !errors.Is(err, domain.ErrTransportClosed) {
		t.Errorf("want ErrTransportClosed, got %v", err)
	}
}

func TestNoSubscribersIsNotAnError(t *testing.T) {
	tr := newTestTransport()
	if err := tr.Publish(context.Background(), msgTo("nobody", "m1")); err != nil {
		t.Errorf("publish to empty topic: %v", err)
	}
}

func TestCloseWaitsForInFlightDelivery(t *testing.T) {
	tr := newTestTransport()

	entered := make(chan struct{})
	release := make(chan struct{})
	tr.Subscribe("writer", func(context.Context, domain.Message) error {
		close(entered)
		<-release
		return nil
	})

	pubDone := make(chan struct{})
	go func() {
		if err := tr.Publish(context.Background(), msgTo("writer", "m1")); err != nil {
			t.Errorf("Publish: %v", err)
		}
		close(pubDone)
	}()
	<-entered

	closeDone := make(chan struct{})
	go func() {
		tr.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
		t.Fatal("Close returned while a delivery was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-pubDone

	select {
	case <-closeDone:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after deliveries drained")
	}
}
