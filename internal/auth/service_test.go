package auth

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var hexSessionID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	m, err := NewManager(store, ManagerConfig{BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m, store
}

func mustCreateUser(t *testing.T, store Store, email, password string) User {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	u, err := store.CreateUser(context.Background(), email, hash)
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	return u
}

func sessionCount(s *MemoryStore) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

type recordingStore struct {
	Store
	calls []string
}

func (r *recordingStore) GetSession(ctx context.Context, id string) (Session, bool, error) {
	r.calls = append(r.calls, "GetSession")
	return r.Store.GetSession(ctx, id)
}

func (r *recordingStore) GetUserBySessionID(ctx context.Context, id string) (User, bool, error) {
	r.calls = append(r.calls, "GetUserBySessionID")
	return r.Store.GetUserBySessionID(ctx, id)
}

func (r *recordingStore) DeleteSession(ctx context.Context, id string) error {
	r.calls = append(r.calls, "DeleteSession")
	return r.Store.DeleteSession(ctx, id)
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) InsertSession(context.Context, Session) error { return f.err }
func (f failingStore) GetSession(context.Context, string) (Session, bool, error) {
	return Session{}, false, f.err
}
func (f failingStore) GetUserByEmail(context.Context, string) (User, bool, error) {
	return User{}, false, f.err
}

func TestNewManagerDefaults(t *testing.T) {
	if _, err := NewManager(nil, ManagerConfig{}); err == nil {
		t.Fatalf("expected error for nil store")
	}
	m, err := NewManager(NewMemoryStore(), ManagerConfig{})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	if m.ttl != 7*24*time.Hour {
		t.Fatalf("expected default TTL of 7 days, got %v", m.ttl)
	}
}

func TestIssueThenValidate(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")

	fakeNow := time.Date(2026, 2, 16, 9, 30, 15, 0, time.UTC)
	m.nowFunc = func() time.Time { return fakeNow }

	sess, err := m.Issue(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if !hexSessionID.MatchString(sess.ID) {
		t.Fatalf("expected 32 hex character session id, got %q", sess.ID)
	}
	if want := fakeNow.Add(7 * 24 * time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, sess.ExpiresAt)
	}

	v, err := m.Validate(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !v.OK {
		t.Fatalf("expected freshly issued session to validate")
	}
	if v.User.ID != u.ID || v.Session.UserID != u.ID {
		t.Fatalf("expected user %d, got session=%+v user=%+v", u.ID, v.Session, v.User)
	}
	if !v.Session.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatalf("expected stored expiry %v, got %v", sess.ExpiresAt, v.Session.ExpiresAt)
	}
}

func TestIssueTwiceGivesIndependentSessions(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	s1, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	s2, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if s1.ID == s2.ID {
		t.Fatalf("expected distinct session ids")
	}

	if err := m.Revoke(ctx, s1.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if v, _ := m.Validate(ctx, s1.ID); v.OK {
		t.Fatalf("expected revoked session to be absent")
	}
	if v, err := m.Validate(ctx, s2.ID); err != nil || !v.OK {
		t.Fatalf("expected second session to remain valid, ok=%v err=%v", v.OK, err)
	}
}

func TestValidateUnknownAndEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	for _, id := range []string{"", "does-not-exist"} {
		v, err := m.Validate(context.Background(), id)
		if err != nil {
			t.Fatalf("Validate(%q) error: %v", id, err)
		}
		if v.OK || v.User != (User{}) || v.Session != (Session{}) {
			t.Fatalf("expected absent result for %q, got %+v", id, v)
		}
	}
}

func TestValidateExpiredSessionIsDeleted(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	fakeNow := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return fakeNow }
	sess, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	m.nowFunc = func() time.Time { return sess.ExpiresAt.Add(time.Second) }
	v, err := m.Validate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if v.OK {
		t.Fatalf("expected expired session to be absent")
	}
	if _, ok, _ := store.GetSession(ctx, sess.ID); ok {
		t.Fatalf("expected expired session row to be deleted")
	}
}

func TestValidateAtExactExpiryStillValid(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	sess, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	m.nowFunc = func() time.Time { return sess.ExpiresAt }
	if v, err := m.Validate(ctx, sess.ID); err != nil || !v.OK {
		t.Fatalf("expected session to be valid at its expiry instant, ok=%v err=%v", v.OK, err)
	}
}

func TestValidateDanglingUserDeletesSession(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	sess, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if err := store.DeleteUser(u.ID); err != nil {
		t.Fatalf("DeleteUser() error: %v", err)
	}

	v, err := m.Validate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if v.OK {
		t.Fatalf("expected session of deleted user to be absent")
	}
	if _, ok, _ := store.GetSession(ctx, sess.ID); ok {
		t.Fatalf("expected orphaned session row to be deleted")
	}
}

func TestValidateCheckOrder(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, m *Manager, store *MemoryStore) string
		want    []string
		wantOK  bool
		wantRow bool
	}{
		{
			name:  "missing session stops after lookup",
			setup: func(*testing.T, *Manager, *MemoryStore) string { return "nope" },
			want:  []string{"GetSession"},
		},
		{
			name: "dangling user purged before expiry check",
			setup: func(t *testing.T, m *Manager, store *MemoryStore) string {
				u := mustCreateUser(t, store, "gone@x.com", "pw")
				sess, err := m.Issue(context.Background(), u.ID)
				if err != nil {
					t.Fatalf("Issue() error: %v", err)
				}
				_ = store.DeleteUser(u.ID)
				return sess.ID
			},
			want: []string{"GetSession", "GetUserBySessionID", "DeleteSession"},
		},
		{
			name: "expired session with live user",
			setup: func(t *testing.T, m *Manager, store *MemoryStore) string {
				u := mustCreateUser(t, store, "old@x.com", "pw")
				sess, err := m.Issue(context.Background(), u.ID)
				if err != nil {
					t.Fatalf("Issue() error: %v", err)
				}
				m.nowFunc = func() time.Time { return sess.ExpiresAt.Add(time.Second) }
				return sess.ID
			},
			want: []string{"GetSession", "GetUserBySessionID", "DeleteSession"},
		},
		{
			name: "valid session",
			setup: func(t *testing.T, m *Manager, store *MemoryStore) string {
				u := mustCreateUser(t, store, "ok@x.com", "pw")
				sess, err := m.Issue(context.Background(), u.ID)
				if err != nil {
					t.Fatalf("Issue() error: %v", err)
				}
				return sess.ID
			},
			want:    []string{"GetSession", "GetUserBySessionID"},
			wantOK:  true,
			wantRow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := NewMemoryStore()
			setupMgr, err := NewManager(mem, ManagerConfig{BcryptCost: bcrypt.MinCost})
			if err != nil {
				t.Fatalf("NewManager() error: %v", err)
			}
			id := tt.setup(t, setupMgr, mem)

			rec := &recordingStore{Store: mem}
			m, err := NewManager(rec, ManagerConfig{BcryptCost: bcrypt.MinCost})
			if err != nil {
				t.Fatalf("NewManager() error: %v", err)
			}
			m.nowFunc = setupMgr.nowFunc

			v, err := m.Validate(context.Background(), id)
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if v.OK != tt.wantOK {
				t.Fatalf("expected OK=%v, got %v", tt.wantOK, v.OK)
			}
			if !reflect.DeepEqual(rec.calls, tt.want) {
				t.Fatalf("expected calls %v, got %v", tt.want, rec.calls)
			}
			if _, ok, _ := mem.GetSession(context.Background(), id); ok != tt.wantRow {
				t.Fatalf("expected row present=%v, got %v", tt.wantRow, ok)
			}
		})
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	sess, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Revoke(ctx, sess.ID); err != nil {
			t.Fatalf("Revoke() call %d error: %v", i+1, err)
		}
		if v, _ := m.Validate(ctx, sess.ID); v.OK {
			t.Fatalf("expected revoked session to be absent")
		}
	}
	if err := m.Revoke(ctx, "never-existed"); err != nil {
		t.Fatalf("Revoke() of unknown id error: %v", err)
	}
	if v, _ := m.Validate(ctx, "never-existed"); v.OK {
		t.Fatalf("expected unknown id to be absent")
	}
}

func TestIssueRetriesOnConflict(t *testing.T) {
	m, store := newTestManager(t)
	u := mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	if err := store.InsertSession(ctx, Session{ID: "taken", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("InsertSession() error: %v", err)
	}
	ids := []string{"taken", "taken", "fresh"}
	m.newID = func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	sess, err := m.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if sess.ID != "fresh" {
		t.Fatalf("expected regenerated id 'fresh', got %q", sess.ID)
	}
}

func TestIssueGivesUpAfterRepeatedConflicts(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	if err := store.InsertSession(ctx, Session{ID: "taken", UserID: 1}); err != nil {
		t.Fatalf("InsertSession() error: %v", err)
	}
	m.newID = func() (string, error) { return "taken", nil }

	if _, err := m.Issue(ctx, 1); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
}

func TestStorageFaultsPropagate(t *testing.T) {
	boom := errors.New("store unreachable")
	m, err := NewManager(failingStore{Store: NewMemoryStore(), err: boom}, ManagerConfig{BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	ctx := context.Background()

	if _, err := m.Issue(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("Issue(): expected storage error, got %v", err)
	}
	if _, err := m.Validate(ctx, "sid"); !errors.Is(err, boom) {
		t.Fatalf("Validate(): expected storage error, got %v", err)
	}
	if _, _, err := m.Login(ctx, "a@x.com", "pw"); !errors.Is(err, boom) {
		t.Fatalf("Login(): expected storage error, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	m, store := newTestManager(t)
	mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	sess, u, err := m.Login(ctx, "a@x.com", "correct")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if u.Email != "a@x.com" || sess.UserID != u.ID {
		t.Fatalf("unexpected login result: session=%+v user=%+v", sess, u)
	}
	v, err := m.Validate(ctx, sess.ID)
	if err != nil || !v.OK || v.User.Email != "a@x.com" {
		t.Fatalf("expected issued session to resolve to a@x.com, ok=%v err=%v", v.OK, err)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	m, store := newTestManager(t)
	mustCreateUser(t, store, "a@x.com", "correct")
	ctx := context.Background()

	_, _, errWrong := m.Login(ctx, "a@x.com", "wrong")
	_, _, errUnknown := m.Login(ctx, "nobody@x.com", "correct")
	_, _, errCase := m.Login(ctx, "A@X.COM", "correct")

	for name, err := range map[string]error{"wrong password": errWrong, "unknown email": errUnknown, "case mismatch": errCase} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
	}
	if n := sessionCount(store); n != 0 {
		t.Fatalf("expected no sessions after failed logins, got %d", n)
	}
}

func TestEnsureUser(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	u, created, err := m.EnsureUser(ctx, "admin@x.com", "s3cret")
	if err != nil {
		t.Fatalf("EnsureUser() error: %v", err)
	}
	if !created {
		t.Fatalf("expected user to be created")
	}
	if !VerifyPassword(u.PasswordHash, "s3cret") {
		t.Fatalf("expected stored hash to verify")
	}

	again, created, err := m.EnsureUser(ctx, "admin@x.com", "other")
	if err != nil {
		t.Fatalf("EnsureUser() second call error: %v", err)
	}
	if created || again.ID != u.ID {
		t.Fatalf("expected existing user to be returned unchanged")
	}
	if _, ok, _ := store.GetUserByEmail(ctx, "admin@x.com"); !ok {
		t.Fatalf("expected user to be stored")
	}
}
