package identity

import (
	"testing"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	u, err := s.CreateUser("alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.UserID == "" {
		t.Fatal("expected a generated UserID")
	}
	got, err := s.GetUser(u.UserID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want alice", got.Username)
	}
}

func TestGetUserUnknownReturnsKindUnknownUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser("does-not-exist")
	if !errs.Is(err, errs.KindUnknownUser) {
		t.Errorf("expected KindUnknownUser, got %v", err)
	}
}

func TestEnsureUserCreatesWhenMissing(t *testing.T) {
	s := newTestStore(t)
	u, err := s.EnsureUser("", "bob")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Username != "bob" {
		t.Errorf("Username = %q, want bob", u.Username)
	}
}

func TestEnsureUserReturnsExisting(t *testing.T) {
	s := newTestStore(t)
	created, err := s.CreateUser("carol")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	got, err := s.EnsureUser(created.UserID, "")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if got.UserID != created.UserID {
		t.Errorf("UserID = %q, want %q", got.UserID, created.UserID)
	}
}

func TestCreateSessionAndAppendMessage(t *testing.T) {
	s := newTestStore(t)
	u, _ := s.CreateUser("dave")
	sess, err := s.CreateSession(u.UserID, "default")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.AppendMessage(sess.SessionID, core.Message{Speaker: core.SpeakerUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err := s.GetSession(sess.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("Messages = %+v, want one message with content 'hi'", got.Messages)
	}
}

func TestGetSessionUnknownReturnsKindUnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession("does-not-exist")
	if !errs.Is(err, errs.KindUnknownSession) {
		t.Errorf("expected KindUnknownSession, got %v", err)
	}
}

func TestListSessionsForUserFiltersByOwner(t *testing.T) {
	s := newTestStore(t)
	u1, _ := s.CreateUser("eve")
	u2, _ := s.CreateUser("frank")
	s1, _ := s.CreateSession(u1.UserID, "default")
	s.CreateSession(u2.UserID, "default")

	sessions, err := s.ListSessionsForUser(u1.UserID)
	if err != nil {
		t.Fatalf("ListSessionsForUser: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != s1.SessionID {
		t.Errorf("ListSessionsForUser(%q) = %+v, want only %q", u1.UserID, sessions, s1.SessionID)
	}
}
