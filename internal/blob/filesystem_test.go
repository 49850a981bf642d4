package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(t.TempDir(), arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "uploads", "doc.pdf", strings.NewReader("hello world"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, "uploads", "doc.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("expected round-tripped content, got %q", string(data))
	}
}

func TestExistsReflectsPutAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if exists, err := store.Exists(ctx, "uploads", "doc.pdf"); err != nil || exists {
		t.Fatalf("expected key to not exist yet, exists=%v err=%v", exists, err)
	}

	if err := store.Put(ctx, "uploads", "doc.pdf", bytes.NewReader([]byte("x")), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if exists, err := store.Exists(ctx, "uploads", "doc.pdf"); err != nil || !exists {
		t.Fatalf("expected key to exist after Put, exists=%v err=%v", exists, err)
	}

	if err := store.Delete(ctx, "uploads", "doc.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, err := store.Exists(ctx, "uploads", "doc.pdf"); err != nil || exists {
		t.Fatalf("expected key gone after Delete, exists=%v err=%v", exists, err)
	}
}

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete(context.Background(), "uploads", "never-existed.pdf"); err != nil {
		t.Errorf("expected deleting a missing key to be a no-op, got: %v", err)
	}
}

func TestDeletePrefixRemovesAllPagesUnderMain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		key := "pages/main-1/page_000" + string(rune('0'+i)) + ".pdf"
		if err := store.Put(ctx, "pages", key[len("pages/"):], bytes.NewReader([]byte("page")), "application/pdf"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if err := store.DeletePrefix(ctx, "pages", "main-1"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}

	for i := 1; i <= 3; i++ {
		key := "main-1/page_000" + string(rune('0'+i)) + ".pdf"
		if exists, err := store.Exists(ctx, "pages", key); err != nil || exists {
			t.Errorf("expected %s removed by DeletePrefix, exists=%v err=%v", key, exists, err)
		}
	}
}

func TestResolveRejectsPathTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "uploads", "../escape.pdf", strings.NewReader("x"), "application/pdf"); err == nil {
		t.Error("expected a key containing \"..\" to be rejected")
	}
	if _, err := store.Get(ctx, "uploads", "../escape.pdf"); err == nil {
		t.Error("expected Get to reject a traversal key too")
	}
}

func TestPublicURLFormat(t *testing.T) {
	store := newTestStore(t)
	url := store.PublicURL("uploads", "doc.pdf", "localhost")
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "uploads/doc.pdf") {
		t.Errorf("unexpected PublicURL format: %s", url)
	}
}
