package storage

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMessageStatusNeverDemotes(t *testing.T) {
	db := openTestDB(t)

	m := Message{ID: "PKT-1", SenderID: "alice", ReceiverID: "bob",
		Content: "hi", Type: TypeText, Timestamp: 1000, Status: StatusSent}
	if err := db.InsertMessage(m); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	if err := db.SetMessageStatus("PKT-1", StatusRead); err != nil {
		t.Fatalf("SetMessageStatus: %v", err)
	}
	if err := db.SetMessageStatus("PKT-1", StatusDelivered); err != nil {
		t.Fatalf("SetMessageStatus: %v", err)
	}

	msgs, err := db.Conversation("alice", "bob", 0)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if msgs[0].Status != StatusRead {
		t.Fatalf("status = %s, demoted from read", msgs[0].Status)
	}
}

func TestInsertDuplicateIgnored(t *testing.T) {
	db := openTestDB(t)

	m := Message{ID: "PKT-1", SenderID: "alice", ReceiverID: "bob",
		Content: "first", Type: TypeText, Timestamp: 1000, Status: StatusSent}
	if err := db.InsertMessage(m); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	m.Content = "redelivered"
	if err := db.InsertMessage(m); err != nil {
		t.Fatalf("InsertMessage duplicate: %v", err)
	}

	msgs, _ := db.Conversation("alice", "bob", 0)
	if len(msgs) != 1 || msgs[0].Content != "first" {
		t.Fatalf("messages = %+v, want the original only", msgs)
	}
}

func TestConversationOrderAndLimit(t *testing.T) {
	db := openTestDB(t)

	for i, content := range []string{"one", "two", "three"} {
		db.InsertMessage(Message{
			ID: "PKT-" + content, SenderID: "alice", ReceiverID: "bob",
			Content: content, Type: TypeText, Timestamp: int64(1000 + i), Status: StatusSent,
		})
	}

	msgs, err := db.Conversation("bob", "alice", 2)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Fatalf("messages = %+v, want the newest two, oldest first", msgs)
	}
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	db := openTestDB(t)

	db.InsertMessage(Message{ID: "PKT-1", SenderID: "bob", ReceiverID: "alice",
		Content: "a", Type: TypeText, Timestamp: 1, Status: StatusDelivered})
	db.InsertMessage(Message{ID: "PKT-2", SenderID: "bob", ReceiverID: "alice",
		Content: "b", Type: TypeText, Timestamp: 2, Status: StatusDelivered})
	db.InsertMessage(Message{ID: "PKT-3", SenderID: "carol", ReceiverID: "alice",
		Content: "c", Type: TypeText, Timestamp: 3, Status: StatusSent})

	counts, err := db.UnreadCounts("alice")
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if counts["bob"] != 2 || counts["carol"] != 1 {
		t.Fatalf("counts = %v", counts)
	}

	ids, err := db.MarkConversationRead("alice", "bob")
	if err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("changed ids = %v, want 2", ids)
	}

	counts, _ = db.UnreadCounts("alice")
	if counts["bob"] != 0 || counts["carol"] != 1 {
		t.Fatalf("counts after read = %v", counts)
	}

	// Idempotent: nothing left to promote.
	ids, _ = db.MarkConversationRead("alice", "bob")
	if len(ids) != 0 {
		t.Fatalf("second mark changed %v", ids)
	}
}

func TestSearchAndClear(t *testing.T) {
	db := openTestDB(t)

	db.InsertMessage(Message{ID: "PKT-1", SenderID: "alice", ReceiverID: "bob",
		Content: "lunch tomorrow?", Type: TypeText, Timestamp: 1, Status: StatusSent})
	db.InsertMessage(Message{ID: "PKT-2", SenderID: "bob", ReceiverID: "alice",
		Content: "sure, lunch works", Type: TypeText, Timestamp: 2, Status: StatusSent})
	db.InsertMessage(Message{ID: "PKT-3", SenderID: "carol", ReceiverID: "dave",
		Content: "lunch?", Type: TypeText, Timestamp: 3, Status: StatusSent})

	msgs, err := db.SearchMessages("alice", "lunch", 0)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("search hits = %d, want 2 (not other peers' chats)", len(msgs))
	}

	if err := db.ClearConversation("alice", "bob"); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	msgs, _ = db.Conversation("alice", "bob", 0)
	if len(msgs) != 0 {
		t.Fatalf("messages after clear = %+v", msgs)
	}
}

func TestProfilesAndSessions(t *testing.T) {
	db := openTestDB(t)

	p := Profile{ID: "u1", Username: "alice", PasswordHash: "$2a$fake"}
	if err := db.CreateProfile(p); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if err := db.CreateProfile(p); err != ErrProfileExists {
		t.Fatalf("duplicate register err = %v, want ErrProfileExists", err)
	}

	got, ok := db.GetProfileByUsername("alice")
	if !ok || got.ID != "u1" {
		t.Fatalf("profile = %+v", got)
	}

	if err := db.CreateSession("tok1", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id, ok := db.GetSession("tok1")
	if !ok || id != "u1" {
		t.Fatalf("session -> %q, %v", id, ok)
	}

	if err := db.CreateSession("tok2", "u1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, ok := db.GetSession("tok2"); ok {
		t.Fatal("expired session still valid")
	}

	db.DeleteSession("tok1")
	if _, ok := db.GetSession("tok1"); ok {
		t.Fatal("deleted session still valid")
	}
}

func TestPeerCache(t *testing.T) {
	db := openTestDB(t)

	db.UpsertCachedPeer(CachedPeer{PeerID: "bob", Username: "Bob"})
	db.UpsertCachedPeer(CachedPeer{PeerID: "bob", Username: "Bobby", Avatar: "a.png"})

	peers, err := db.ListCachedPeers()
	if err != nil {
		t.Fatalf("ListCachedPeers: %v", err)
	}
	if len(peers) != 1 || peers[0].Username != "Bobby" || peers[0].Avatar != "a.png" {
		t.Fatalf("peers = %+v", peers)
	}
}
