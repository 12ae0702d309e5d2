package transport

import (
	"context"
	"testing"
)

func TestPushDedupsByIdempotencyKey(t *testing.T) {
	m := NewMemory()
	change := OutboxChange{EntityType: "task", EntityID: "t1", Operation: "UPSERT", IdempotencyKey: "idem-1"}

	resp1, err := m.Push(context.Background(), PushRequest{DeviceID: "device-a", Changes: []OutboxChange{change}})
	if err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if len(resp1.Accepted) != 1 || len(resp1.Rejected) != 0 {
		t.Fatalf("expected the first push to be accepted, got %+v", resp1)
	}

	resp2, err := m.Push(context.Background(), PushRequest{DeviceID: "device-a", Changes: []OutboxChange{change}})
	if err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if len(resp2.Accepted) != 0 || len(resp2.Rejected) != 1 {
		t.Fatalf("expected the replayed push to be rejected as a duplicate, got %+v", resp2)
	}
}

func TestPushRejectsMissingEntityFields(t *testing.T) {
	m := NewMemory()
	resp, err := m.Push(context.Background(), PushRequest{DeviceID: "device-a", Changes: []OutboxChange{{IdempotencyKey: "idem-1"}}})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(resp.Rejected) != 1 {
		t.Fatalf("expected rejection for a change missing entity_type/entity_id, got %+v", resp)
	}
}

func TestPullReturnsChangesAfterCursorInOrder(t *testing.T) {
	m := NewMemory()
	changes := []OutboxChange{
		{EntityType: "task", EntityID: "t1", Operation: "UPSERT", IdempotencyKey: "idem-1"},
		{EntityType: "task", EntityID: "t2", Operation: "UPSERT", IdempotencyKey: "idem-2"},
		{EntityType: "task", EntityID: "t3", Operation: "UPSERT", IdempotencyKey: "idem-3"},
	}
	if _, err := m.Push(context.Background(), PushRequest{DeviceID: "device-a", Changes: changes}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	page1, err := m.Pull(context.Background(), PullRequest{DeviceID: "device-b", Limit: 2})
	if err != nil {
		t.Fatalf("Pull page 1: %v", err)
	}
	if len(page1.Changes) != 2 || !page1.HasMore {
		t.Fatalf("expected a first page of 2 with HasMore=true, got %+v", page1)
	}
	if page1.Changes[0].EntityID != "t1" || page1.Changes[1].EntityID != "t2" {
		t.Fatalf("expected changes in push order, got %+v", page1.Changes)
	}

	cursor := page1.ServerCursor
	page2, err := m.Pull(context.Background(), PullRequest{DeviceID: "device-b", Cursor: &cursor, Limit: 2})
	if err != nil {
		t.Fatalf("Pull page 2: %v", err)
	}
	if len(page2.Changes) != 1 || page2.HasMore {
		t.Fatalf("expected the final page of 1 with HasMore=false, got %+v", page2)
	}
	if page2.Changes[0].EntityID != "t3" {
		t.Fatalf("expected the remaining change t3, got %+v", page2.Changes)
	}
}

func TestPullWithNoCursorReturnsEverything(t *testing.T) {
	m := NewMemory()
	if _, err := m.Push(context.Background(), PushRequest{DeviceID: "device-a", Changes: []OutboxChange{
		{EntityType: "task", EntityID: "t1", Operation: "UPSERT", IdempotencyKey: "idem-1"},
	}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	resp, err := m.Pull(context.Background(), PullRequest{DeviceID: "device-b"})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(resp.Changes) != 1 || resp.HasMore {
		t.Fatalf("expected a single complete page, got %+v", resp)
	}
}
