package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.db")
	s, err := Open(context.Background(), path, []byte("test-identity-private-key-bytes"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendAndReadHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	convID, err := s.ConversationID(ctx, "ab:cd:ef", now)
	if err != nil {
		t.Fatalf("ConversationID: %v", err)
	}
	if err := s.AppendMessage(ctx, convID, DirectionSent, KindText, []byte("hello"), "", 0, now); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, convID, DirectionReceived, KindText, []byte("world"), "", 0, now.Add(time.Second)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	history, err := s.History(ctx, "ab:cd:ef", 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History returned %d rows, want 2", len(history))
	}
	if string(history[0].Body) != "world" {
		t.Fatalf("most recent message body = %q, want world", history[0].Body)
	}
}

func TestStore_ConversationID_IsStable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	id1, err := s.ConversationID(ctx, "peer-1", now)
	if err != nil {
		t.Fatalf("ConversationID: %v", err)
	}
	id2, err := s.ConversationID(ctx, "peer-1", now)
	if err != nil {
		t.Fatalf("ConversationID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("conversation id changed across calls: %d vs %d", id1, id2)
	}
}

func TestStore_ContactLookupAndVerify(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.UpsertContact(ctx, "fp-1", []byte("pubkey-bytes"), now); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	pub, found, err := s.LookupContact(ctx, "fp-1")
	if err != nil || !found {
		t.Fatalf("LookupContact: found=%v err=%v", found, err)
	}
	if string(pub) != "pubkey-bytes" {
		t.Fatalf("pub = %q", pub)
	}
	if err := s.SetVerified(ctx, "fp-1", true); err != nil {
		t.Fatalf("SetVerified: %v", err)
	}
}

func TestStore_LookupContact_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.LookupContact(context.Background(), "nope")
	if err != nil {
		t.Fatalf("LookupContact: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestSanitizeAttachmentPath_StripsTraversalComponents(t *testing.T) {
	root := "/data/files"
	// filepath.Base discards the directory components entirely, so a
	// traversal attempt resolves to a plain file inside the peer
	// directory rather than escaping it.
	got, err := SanitizeAttachmentPath(root, "fp", "../../etc/passwd")
	if err != nil {
		t.Fatalf("SanitizeAttachmentPath: %v", err)
	}
	want := filepath.Join(root, "fp", "passwd")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeAttachmentPath_RejectsEmptyOrDot(t *testing.T) {
	if _, err := SanitizeAttachmentPath("/data/files", "fp", "."); err == nil {
		t.Fatalf("expected error for \".\"")
	}
	if _, err := SanitizeAttachmentPath("/data/files", "fp", ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
