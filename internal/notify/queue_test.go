package notify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"orchestd/pkg/types"
)

func TestPushOrderAndIDs(t *testing.T) {
	q := NewQueue(8)
	q.Push(types.NoteSuccess, "first")
	q.Push(types.NoteError, "second")
	q.Push(types.NoteWarning, "third")

	list := q.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	for i, want := range []string{"first", "second", "third"} {
		if list[i].Message != want {
			t.Fatalf("order broken at %d: %+v", i, list)
		}
	}
	for i := 1; i < len(list); i++ {
		if list[i].ID <= list[i-1].ID {
			t.Fatalf("ids not strictly increasing: %v then %v", list[i-1].ID, list[i].ID)
		}
	}
}

func TestBoundedEviction(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(types.NoteInfo, fmt.Sprintf("n%d", i))
	}
	list := q.List()
	if len(list) != 3 {
		t.Fatalf("expected capped length 3, got %d", len(list))
	}
	// Oldest entries were evicted.
	if list[0].Message != "n2" || list[2].Message != "n4" {
		t.Fatalf("wrong survivors: %+v", list)
	}
}

func TestRemove(t *testing.T) {
	q := NewQueue(0)
	q.Push(types.NoteInfo, "keep")
	q.Push(types.NoteInfo, "drop")
	list := q.List()
	if !q.Remove(list[1].ID) {
		t.Fatal("remove existing failed")
	}
	if q.Remove(list[1].ID) {
		t.Fatal("double remove should report false")
	}
	if q.Remove(9999) {
		t.Fatal("remove of unknown id should report false")
	}
	if got := q.List(); len(got) != 1 || got[0].Message != "keep" {
		t.Fatalf("unexpected remainder %+v", got)
	}
}

func TestClearKeepsIDsIncreasing(t *testing.T) {
	q := NewQueue(0)
	q.Push(types.NoteInfo, "a")
	before := q.List()[0].ID
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("clear left %d entries", q.Len())
	}
	q.Push(types.NoteInfo, "b")
	after := q.List()[0].ID
	if after <= before {
		t.Fatalf("ids must keep increasing across a clear: %d then %d", before, after)
	}
}

func TestTimestampsUseInjectedClock(t *testing.T) {
	q := NewQueue(0)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return fixed }
	q.Push(types.NoteSuccess, "x")
	if got := q.List()[0].Timestamp; !got.Equal(fixed) {
		t.Fatalf("timestamp %v, want %v", got, fixed)
	}
}

func TestConcurrentPush(t *testing.T) {
	q := NewQueue(1000)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Push(types.NoteInfo, "c")
			}
		}()
	}
	wg.Wait()
	if q.Len() != 500 {
		t.Fatalf("expected 500 entries, got %d", q.Len())
	}
	list := q.List()
	seen := make(map[uint64]struct{}, len(list))
	for _, n := range list {
		if _, dup := seen[n.ID]; dup {
			t.Fatalf("duplicate id %d", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
}
