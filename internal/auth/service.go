package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	DefaultSessionTTL = 7 * 24 * time.Hour

	sessionIDBytes = 16
	issueAttempts  = 3
)

// Manager owns the session lifecycle: it is the only component that creates
// or deletes session rows.
type Manager struct {
	store      Store
	ttl        time.Duration
	bcryptCost int
	log        *zap.Logger
	nowFunc    func() time.Time
	newID      func() (string, error)

	dummyOnce sync.Once
	dummyHash string
}

type ManagerConfig struct {
	SessionTTL time.Duration
	BcryptCost int
	Logger     *zap.Logger
}

func NewManager(store Store, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.SessionTTL < 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	ttl := cfg.SessionTTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		store:      store,
		ttl:        ttl,
		bcryptCost: cost,
		log:        log,
		nowFunc:    time.Now,
		newID:      newSessionID,
	}, nil
}

// Issue creates a session for userID that expires one TTL from now.
func (m *Manager) Issue(ctx context.Context, userID int64) (Session, error) {
	expiresAt := m.nowFunc().UTC().Add(m.ttl).Truncate(time.Second)

	for attempt := 1; attempt <= issueAttempts; attempt++ {
		id, err := m.newID()
		if err != nil {
			return Session{}, fmt.Errorf("generate session id: %w", err)
		}
		sess := Session{ID: id, UserID: userID, ExpiresAt: expiresAt}
		err = m.store.InsertSession(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrSessionConflict) {
			return Session{}, err
		}
		m.log.Warn("session id collision, regenerating", zap.Int64("user_id", userID), zap.Int("attempt", attempt))
	}
	return Session{}, fmt.Errorf("issue session after %d attempts: %w", issueAttempts, ErrSessionConflict)
}

// Validate resolves a session id to its session and user. The checks run in a
// fixed order: the row must exist, its user must resolve, and it must not be
// expired. Orphaned and expired rows are deleted when observed.
func (m *Manager) Validate(ctx context.Context, sessionID string) (Validation, error) {
	if sessionID == "" {
		return Validation{}, nil
	}

	sess, ok, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Validation{}, err
	}
	if !ok {
		return Validation{}, nil
	}

	user, ok, err := m.ResolveUser(ctx, sessionID)
	if err != nil {
		return Validation{}, err
	}
	if !ok {
		if err := m.store.DeleteSession(ctx, sessionID); err != nil {
			return Validation{}, err
		}
		m.log.Info("removed session with dangling user", zap.Int64("user_id", sess.UserID))
		return Validation{}, nil
	}

	if sess.ExpiresAt.Before(m.nowFunc()) {
		if err := m.store.DeleteSession(ctx, sessionID); err != nil {
			return Validation{}, err
		}
		m.log.Debug("removed expired session", zap.Int64("user_id", sess.UserID), zap.Time("expired_at", sess.ExpiresAt))
		return Validation{}, nil
	}

	return Validation{Session: sess, User: user, OK: true}, nil
}

// ResolveUser returns the user owning sessionID without checking expiry.
func (m *Manager) ResolveUser(ctx context.Context, sessionID string) (User, bool, error) {
	return m.store.GetUserBySessionID(ctx, sessionID)
}

// Revoke deletes the session whether or not it exists or has expired.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.store.DeleteSession(ctx, sessionID)
}

// Login checks credentials and issues a session. Unknown emails and wrong
// passwords both yield ErrInvalidCredentials and both pay for one bcrypt
// comparison.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, User, error) {
	user, ok, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		return Session{}, User{}, err
	}
	if !ok {
		_ = VerifyPassword(m.placeholderHash(), password)
		return Session{}, User{}, ErrInvalidCredentials
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return Session{}, User{}, ErrInvalidCredentials
	}

	sess, err := m.Issue(ctx, user.ID)
	if err != nil {
		return Session{}, User{}, err
	}
	m.log.Info("session issued", zap.Int64("user_id", user.ID), zap.Time("expires_at", sess.ExpiresAt))
	return sess, user, nil
}

// EnsureUser creates a user with the given credentials unless the email is
// already registered. It reports whether a user was created.
func (m *Manager) EnsureUser(ctx context.Context, email, password string) (User, bool, error) {
	existing, ok, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		return User{}, false, err
	}
	if ok {
		return existing, false, nil
	}

	hash, err := HashPassword(password, m.bcryptCost)
	if err != nil {
		return User{}, false, err
	}
	u, err := m.store.CreateUser(ctx, email, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			u, ok, err := m.store.GetUserByEmail(ctx, email)
			if err != nil {
				return User{}, false, err
			}
			if ok {
				return u, false, nil
			}
		}
		return User{}, false, fmt.Errorf("create user: %w", err)
	}
	return u, true, nil
}

func (m *Manager) placeholderHash() string {
	m.dummyOnce.Do(func() {
		h, err := HashPassword("placeholder-password", m.bcryptCost)
		if err != nil {
			m.log.Error("generate placeholder hash", zap.Error(err))
			return
		}
		m.dummyHash = h
	})
	return m.dummyHash
}

func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
