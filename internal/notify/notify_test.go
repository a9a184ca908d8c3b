package notify

import (
	"context"
	"testing"
	"time"

	"github.com/skothari-dev/loom/internal/core"
)

func TestMemoryNotifierDeliversInOrder(t *testing.T) {
	n := NewMemoryNotifier(4)
	ctx := context.Background()

	for i, op := range []core.ChangeOp{core.ChangeCreate, core.ChangeUpdate, core.ChangeDelete} {
		err := n.Publish(ctx, core.ChangeEvent{
			Table: "users", Op: op, ID: int64(i + 1), Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	want := []core.ChangeOp{core.ChangeCreate, core.ChangeUpdate, core.ChangeDelete}
	for i, op := range want {
		ev := <-n.Events()
		if ev.Op != op || ev.ID != int64(i+1) {
			t.Errorf("event %d = %+v, want op %s id %d", i, ev, op, i+1)
		}
	}
}

func TestMemoryNotifierFullBuffer(t *testing.T) {
	n := NewMemoryNotifier(1)
	ctx := context.Background()

	if err := n.Publish(ctx, core.ChangeEvent{Table: "users", Op: core.ChangeCreate}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := n.Publish(ctx, core.ChangeEvent{Table: "users", Op: core.ChangeCreate}); err == nil {
		t.Error("publish into a full buffer must fail")
	}
}

func TestMemoryNotifierRejectsAfterClose(t *testing.T) {
	n := NewMemoryNotifier(1)
	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err := n.Publish(context.Background(), core.ChangeEvent{Table: "users", Op: core.ChangeCreate})
	if err != ErrNotifierClosed {
		t.Errorf("err = %v, want ErrNotifierClosed", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second Close must be a no-op: %v", err)
	}
}

func TestKafkaNotifierConfigValidation(t *testing.T) {
	if _, err := NewKafkaNotifier(KafkaConfig{Topic: "changes"}); err == nil {
		t.Error("missing brokers must be rejected")
	}
	if _, err := NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("missing topic must be rejected")
	}
}
