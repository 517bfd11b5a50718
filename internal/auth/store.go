package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionConflict = errors.New("session id already exists")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUserNotFound    = errors.New("user not found")
)

// Store holds users and sessions. Lookups report absence through the bool
// result; a non-nil error always means the backing store failed.
type Store interface {
	InsertSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, bool, error)
	DeleteSession(ctx context.Context, id string) error
	GetUserBySessionID(ctx context.Context, sessionID string) (User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
}

type MemoryStore struct {
	nowFunc func() time.Time

	mu       sync.RWMutex
	nextID   int64
	users    map[int64]User
	byEmail  map[string]int64
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nowFunc:  time.Now,
		users:    make(map[int64]User),
		byEmail:  make(map[string]int64),
		sessions: make(map[string]Session),
	}
}

func (s *MemoryStore) InsertSession(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionConflict
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) GetUserBySessionID(_ context.Context, sessionID string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return User{}, false, nil
	}
	u, ok := s.users[sess.UserID]
	return u, ok, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return User{}, false, nil
	}
	return s.users[id], true, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, email, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return User{}, ErrEmailTaken
	}
	s.nextID++
	u := User{
		ID:           s.nextID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.nowFunc().UTC().Truncate(time.Second),
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u, nil
}

// DeleteUser removes the user row only, leaving any sessions that reference it.
func (s *MemoryStore) DeleteUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.byEmail, u.Email)
	return nil
}
