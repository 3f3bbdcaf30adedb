package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"docchat-go/pkg/tasks"
)

type memAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
	resets int
	fail   bool
}

func newMemAttempts() *memAttempts { return &memAttempts{counts: map[string]int64{}} }

func (m *memAttempts) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("redis down")
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memAttempts) Reset(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	m.resets++
}

type flakyProcessor struct {
	failures int
	calls    int
}

func (p *flakyProcessor) Process(context.Context, tasks.IngestionTask) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("tika unavailable")
	}
	return nil
}

func ingestionMessage(t *testing.T) kafka.Message {
	t.Helper()
	b, err := json.Marshal(tasks.IngestionTask{DocumentID: "d1", ThreadID: "T1", FileName: "a.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Value: b}
}

func TestProcessRetriesUntilSuccess(t *testing.T) {
	attempts := newMemAttempts()
	proc := &flakyProcessor{failures: 2}
	c := ingestionConsumer(proc, attempts, 3)
	c.retryDelay = time.Millisecond

	if !c.process(context.Background(), ingestionMessage(t)) {
		t.Fatal("expected commit")
	}
	if proc.calls != 3 {
		t.Fatalf("calls = %d, want 3", proc.calls)
	}
	if len(attempts.counts) != 0 {
		t.Fatalf("attempt counter not reset: %v", attempts.counts)
	}
}

func TestProcessGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := newMemAttempts()
	proc := &flakyProcessor{failures: 100}
	c := ingestionConsumer(proc, attempts, 3)
	c.retryDelay = time.Millisecond

	if !c.process(context.Background(), ingestionMessage(t)) {
		t.Fatal("expected commit after giving up")
	}
	if proc.calls != 3 {
		t.Fatalf("calls = %d, want 3", proc.calls)
	}
}

func TestProcessFallsBackToLocalCountWhenRedisFails(t *testing.T) {
	attempts := newMemAttempts()
	attempts.fail = true
	proc := &flakyProcessor{failures: 100}
	c := ingestionConsumer(proc, attempts, 2)
	c.retryDelay = time.Millisecond

	if !c.process(context.Background(), ingestionMessage(t)) {
		t.Fatal("expected commit")
	}
	if proc.calls != 2 {
		t.Fatalf("calls = %d, want 2", proc.calls)
	}
}

func TestProcessCommitsMalformedMessage(t *testing.T) {
	proc := &flakyProcessor{}
	c := ingestionConsumer(proc, newMemAttempts(), 3)
	if !c.process(context.Background(), kafka.Message{Value: []byte("{not json")}) {
		t.Fatal("malformed message must be committed")
	}
	if proc.calls != 0 {
		t.Fatal("processor must not be called for malformed message")
	}
}

func TestProcessStopsOnCancel(t *testing.T) {
	proc := &flakyProcessor{failures: 100}
	c := ingestionConsumer(proc, newMemAttempts(), 10)
	c.retryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if c.process(ctx, ingestionMessage(t)) {
		t.Fatal("cancelled processing must not commit")
	}
}

type recordingHandler struct{ events []tasks.ThreadChangedEvent }

func (h *recordingHandler) HandleThreadChanged(_ context.Context, e tasks.ThreadChangedEvent) error {
	h.events = append(h.events, e)
	return nil
}

func TestThreadChangeConsumerDispatches(t *testing.T) {
	h := &recordingHandler{}
	c := threadChangeConsumer(h, newMemAttempts(), 3)
	b, _ := json.Marshal(tasks.ThreadChangedEvent{ThreadID: "T1", UserID: "u1", Deleted: true})
	if !c.process(context.Background(), kafka.Message{Value: b}) {
		t.Fatal("expected commit")
	}
	if len(h.events) != 1 || !h.events[0].Deleted || h.events[0].ThreadID != "T1" {
		t.Fatalf("unexpected events %+v", h.events)
	}
}
