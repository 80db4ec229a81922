package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, unsubscribe := b.Subscribe(Filter{JobID: "job-1"})
	defer unsubscribe()

	b.Publish(context.Background(), Event{Type: JobCreated, JobID: "job-1"})

	select {
	case e := <-ch:
		require.Equal(t, JobCreated, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishSkipsNonMatchingSubscriber(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, unsubscribe := b.Subscribe(Filter{JobID: "job-2"})
	defer unsubscribe()

	b.Publish(context.Background(), Event{Type: JobCreated, JobID: "job-1"})

	select {
	case <-ch:
		t.Fatal("did not expect an event for a different job id")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWaitForTerminalReturnsOnCompletion(t *testing.T) {
	b := New(nil)
	defer b.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Publish(context.Background(), Event{Type: JobStatusChanged, JobID: "job-3"})
		b.Publish(context.Background(), Event{Type: JobCompleted, JobID: "job-3"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := b.WaitForTerminal(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, JobCompleted, e.Type)
}

func TestWaitForTerminalRespectsContextCancellation(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.WaitForTerminal(ctx, "job-never")
	require.Error(t, err)
}
