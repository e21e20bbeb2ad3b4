// Package identity is the flat-JSON User/Session collaborator: one
// file per record under {data_dir}/users and {data_dir}/sessions. It
// owns durable message history; the core only ever receives ids to use
// as scope keys.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/errs"
)

// User is an identity record.
type User struct {
	UserID    string            `json:"user_id"`
	Username  string            `json:"username,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Session is a conversation-container record, including durable
// message history for replay and extraction windowing.
type Session struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	RoleID    string        `json:"role_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []core.Message `json:"messages"`
}

// Store is the identity collaborator: flat-JSON CRUD over users and
// sessions, one file per record, guarded by a process-wide lock so
// concurrent chat turns never interleave a read-modify-write on the
// same file.
type Store struct {
	dataDir string
	mu      sync.Mutex
}

// New creates the identity store rooted at dataDir, creating the
// users/ and sessions/ subdirectories if needed.
func New(dataDir string) (*Store, error) {
	for _, sub := range []string{"users", "sessions"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("identity: create %s dir: %w", sub, err)
		}
	}
	return &Store{dataDir: dataDir}, nil
}

func (s *Store) userPath(userID string) string {
	return filepath.Join(s.dataDir, "users", userID+".json")
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID+".json")
}

// CreateUser creates and persists a new user. If username is empty a
// generic identity is created.
func (s *Store) CreateUser(username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &User{
		UserID:    uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now(),
	}
	if err := writeJSON(s.userPath(u.UserID), u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(userID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u User
	if err := readJSON(s.userPath(userID), &u); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindUnknownUser, fmt.Sprintf("user %q not found", userID))
		}
		return nil, err
	}
	return &u, nil
}

// EnsureUser loads userID if it exists; if it doesn't and
// autoCreateUsername is non-empty (or userID is empty), a new user is
// created and returned instead.
func (s *Store) EnsureUser(userID, autoCreateUsername string) (*User, error) {
	if userID != "" {
		u, err := s.GetUser(userID)
		if err == nil {
			return u, nil
		}
		if !errs.Is(err, errs.KindUnknownUser) || autoCreateUsername == "" {
			return nil, err
		}
	}
	return s.CreateUser(autoCreateUsername)
}

// CreateSession creates and persists a new session for userID.
func (s *Store) CreateSession(userID, roleID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		SessionID: uuid.New().String(),
		UserID:    userID,
		RoleID:    roleID,
		CreatedAt: time.Now(),
	}
	if err := writeJSON(s.sessionPath(sess.SessionID), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess Session
	if err := readJSON(s.sessionPath(sessionID), &sess); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindUnknownSession, fmt.Sprintf("session %q not found", sessionID))
		}
		return nil, err
	}
	return &sess, nil
}

// EnsureSession loads sessionID if it exists, otherwise creates one
// for userID under roleID.
func (s *Store) EnsureSession(sessionID, userID, roleID string) (*Session, error) {
	if sessionID != "" {
		sess, err := s.GetSession(sessionID)
		if err == nil {
			return sess, nil
		}
		if !errs.Is(err, errs.KindUnknownSession) {
			return nil, err
		}
	}
	return s.CreateSession(userID, roleID)
}

// AppendMessage appends msg to sessionID's durable history and
// persists the session.
func (s *Store) AppendMessage(sessionID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess Session
	if err := readJSON(s.sessionPath(sessionID), &sess); err != nil {
		return err
	}
	sess.Messages = append(sess.Messages, msg)
	return writeJSON(s.sessionPath(sessionID), &sess)
}

// ListSessionsForUser scans sessions/ for records belonging to userID.
// Linear in the number of sessions on disk; acceptable for a
// collaborator this spec treats as out of the performance-critical
// core.
func (s *Store) ListSessionsForUser(userID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dataDir, "sessions"))
	if err != nil {
		return nil, err
	}

	var out []*Session
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var sess Session
		if err := readJSON(filepath.Join(s.dataDir, "sessions", entry.Name()), &sess); err != nil {
			continue
		}
		if sess.UserID == userID {
			out = append(out, &sess)
		}
	}
	return out, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
