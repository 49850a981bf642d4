package badger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

func newTestCache(t *testing.T) *StatusCache {
	t.Helper()
	db, err := Open(arbor.NewLogger(), &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStatusCache(db, arbor.NewLogger())
}

func TestPutGetStatusRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.PutStatus(ctx, "main-1", interfaces.StatusRecord{Type: "MAIN", Status: "PROCESSING", Progress: 40}); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}
	rec, err := c.GetStatus(ctx, "main-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if rec == nil || rec.Status != "PROCESSING" || rec.Progress != 40 {
		t.Fatalf("unexpected status record: %+v", rec)
	}
}

func TestGetStatusMissingReturnsNil(t *testing.T) {
	c := newTestCache(t)
	rec, err := c.GetStatus(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil for a missing status record, got %+v", rec)
	}
}

func TestSetOwnerAndVerifyOwner(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.SetOwner(ctx, "main-1", "user-1"); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}
	ok, err := c.VerifyOwner(ctx, "main-1", "user-1")
	if err != nil || !ok {
		t.Fatalf("expected owner to verify, ok=%v err=%v", ok, err)
	}
	ok, err = c.VerifyOwner(ctx, "main-1", "someone-else")
	if err != nil || ok {
		t.Fatalf("expected a different user not to verify, ok=%v err=%v", ok, err)
	}

	jobIDs, err := c.ListUserJobs(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListUserJobs: %v", err)
	}
	if len(jobIDs) != 1 || jobIDs[0] != "main-1" {
		t.Errorf("expected [main-1], got %v", jobIDs)
	}
}

func TestSetChildIfAbsentExactlyOneWinnerUnderConcurrency(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wins := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := c.SetChildIfAbsent(ctx, "main-1", interfaces.ChildRoleMerge, "merge-id")
			if err != nil {
				t.Errorf("SetChildIfAbsent: %v", err)
				return
			}
			wins[i] = won
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner of the set-if-absent race, got %d", count)
	}
}

func TestAllPageChildrenTerminal(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if all, err := c.AllPageChildrenTerminal(ctx, "main-1"); err != nil || all {
		t.Fatalf("expected no registered children to be not-all-terminal, all=%v err=%v", all, err)
	}

	if err := c.AddChild(ctx, "main-1", interfaces.ChildRolePage, "page-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.AddChild(ctx, "main-1", interfaces.ChildRolePage, "page-2"); err != nil {
		t.Fatal(err)
	}
	if err := c.PutStatus(ctx, "page-1", interfaces.StatusRecord{Type: "PAGE", Status: "COMPLETED"}); err != nil {
		t.Fatal(err)
	}

	if all, err := c.AllPageChildrenTerminal(ctx, "main-1"); err != nil || all {
		t.Fatalf("expected one pending child to block completion, all=%v err=%v", all, err)
	}

	if err := c.PutStatus(ctx, "page-2", interfaces.StatusRecord{Type: "PAGE", Status: "FAILED"}); err != nil {
		t.Fatal(err)
	}
	if all, err := c.AllPageChildrenTerminal(ctx, "main-1"); err != nil || !all {
		t.Fatalf("expected both children terminal, all=%v err=%v", all, err)
	}

	completed, err := c.CountCompletedPageChildren(ctx, "main-1")
	if err != nil || completed != 1 {
		t.Errorf("expected 1 completed child, got %d err=%v", completed, err)
	}
	failed, err := c.CountFailedPageChildren(ctx, "main-1")
	if err != nil || failed != 1 {
		t.Errorf("expected 1 failed child, got %d err=%v", failed, err)
	}
}

func TestDeleteJobKeysRemovesEveryFamily(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.PutStatus(ctx, "main-1", interfaces.StatusRecord{Type: "MAIN", Status: "COMPLETED"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetOwner(ctx, "main-1", "user-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPagesTotal(ctx, "main-1", 3); err != nil {
		t.Fatal(err)
	}
	if err := c.AddChild(ctx, "main-1", interfaces.ChildRolePage, "page-1"); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteJobKeys(ctx, "main-1"); err != nil {
		t.Fatalf("DeleteJobKeys: %v", err)
	}

	rec, err := c.GetStatus(ctx, "main-1")
	if err != nil || rec != nil {
		t.Errorf("expected status key deleted, rec=%+v err=%v", rec, err)
	}
	if _, total, err := c.GetPagesTotal(ctx, "main-1"); err != nil || total {
		t.Errorf("expected pages_total key deleted, found=%v err=%v", total, err)
	}
	children, err := c.GetPageChildren(ctx, "main-1")
	if err != nil || len(children) != 0 {
		t.Errorf("expected page children cleared, got %v err=%v", children, err)
	}
	jobIDs, err := c.ListUserJobs(ctx, "user-1", 0)
	if err != nil || len(jobIDs) != 0 {
		t.Errorf("expected user job index cleared, got %v err=%v", jobIDs, err)
	}
}
