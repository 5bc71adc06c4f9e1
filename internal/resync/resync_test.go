package resync

import (
	"testing"

	"mailstack/internal/imap/selection"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	snap := selection.Snapshot{
		UIDValidity:   12345,
		UIDNext:       42,
		HighestModSeq: 777,
		MessageCount:  3,
		UIDSet:        map[uint32]bool{1: true, 2: true, 5: true},
	}

	if err := s.Save("alice@example.com", "INBOX", snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load("alice@example.com", "INBOX")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.UIDValidity != snap.UIDValidity || got.UIDNext != snap.UIDNext ||
		got.HighestModSeq != snap.HighestModSeq || got.MessageCount != snap.MessageCount {
		t.Fatalf("snapshot mismatch: got %+v want %+v", got, snap)
	}
	if len(got.UIDSet) != 3 || !got.UIDSet[1] || !got.UIDSet[2] || !got.UIDSet[5] {
		t.Fatalf("unexpected uid set: %+v", got.UIDSet)
	}
}

func TestLoadMissingReturnsErrNoSnapshot(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Load("bob@example.com", "INBOX")
	if err != ErrNoSnapshot {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	s := setupTestStore(t)
	first := selection.Snapshot{UIDValidity: 1, UIDNext: 10, UIDSet: map[uint32]bool{1: true, 2: true}}
	second := selection.Snapshot{UIDValidity: 1, UIDNext: 20, UIDSet: map[uint32]bool{3: true}}

	if err := s.Save("carol@example.com", "Archive", first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := s.Save("carol@example.com", "Archive", second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := s.Load("carol@example.com", "Archive")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.UIDNext != 20 {
		t.Fatalf("expected overwritten uid_next 20, got %d", got.UIDNext)
	}
	if len(got.UIDSet) != 1 || !got.UIDSet[3] {
		t.Fatalf("expected stale uids replaced, got %+v", got.UIDSet)
	}
}

func TestForgetRemovesSnapshot(t *testing.T) {
	s := setupTestStore(t)
	snap := selection.Snapshot{UIDValidity: 9, UIDNext: 1, UIDSet: map[uint32]bool{1: true}}
	if err := s.Save("dave@example.com", "INBOX", snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Forget("dave@example.com", "INBOX"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := s.Load("dave@example.com", "INBOX"); err != ErrNoSnapshot {
		t.Fatalf("expected ErrNoSnapshot after forget, got %v", err)
	}
}

func TestSnapshotsAreIsolatedPerMailbox(t *testing.T) {
	s := setupTestStore(t)
	inbox := selection.Snapshot{UIDValidity: 1, UIDNext: 5, UIDSet: map[uint32]bool{1: true}}
	sent := selection.Snapshot{UIDValidity: 2, UIDNext: 9, UIDSet: map[uint32]bool{7: true}}

	if err := s.Save("erin@example.com", "INBOX", inbox); err != nil {
		t.Fatalf("save inbox: %v", err)
	}
	if err := s.Save("erin@example.com", "Sent", sent); err != nil {
		t.Fatalf("save sent: %v", err)
	}

	gotInbox, err := s.Load("erin@example.com", "INBOX")
	if err != nil {
		t.Fatalf("load inbox: %v", err)
	}
	gotSent, err := s.Load("erin@example.com", "Sent")
	if err != nil {
		t.Fatalf("load sent: %v", err)
	}
	if gotInbox.UIDNext != 5 || gotSent.UIDNext != 9 {
		t.Fatalf("cross-mailbox contamination: inbox=%+v sent=%+v", gotInbox, gotSent)
	}
}
