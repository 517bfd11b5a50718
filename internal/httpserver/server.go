package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"commsdash/comms-api/internal/auth"
	"commsdash/comms-api/internal/config"
	"commsdash/comms-api/internal/messages"
	"commsdash/comms-api/internal/migrations"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (auth.Session, auth.User, error)
	Validate(ctx context.Context, sessionID string) (auth.Validation, error)
	Revoke(ctx context.Context, sessionID string) error
}

type MessageService interface {
	List(ctx context.Context, p messages.ListParams) ([]messages.Message, error)
	Get(ctx context.Context, id int64) (messages.Message, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Search(ctx context.Context, query string) ([]messages.Message, error)
	MonthlyStats(ctx context.Context, now time.Time, actionedOnly bool) (messages.MonthCount, error)
}

type MigrationService interface {
	Status(ctx context.Context) ([]migrations.Status, error)
}

// Pinger reports database reachability for /readyz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type CookieConfig struct {
	Name     string
	Domain   string
	MaxAge   time.Duration
	HTTPOnly bool
	Secure   bool
}

// CookieConfigFrom maps the auth section of the process config onto the
// cookie attributes the handlers set.
func CookieConfigFrom(cfg config.AuthConfig) CookieConfig {
	return CookieConfig{
		Name:     cfg.CookieName,
		Domain:   cfg.CookieDomain,
		MaxAge:   cfg.CookieMaxAge,
		HTTPOnly: cfg.CookieHTTPOnly,
		Secure:   cfg.CookieSecure,
	}
}

type Deps struct {
	Auth       AuthService
	Messages   MessageService
	Migrations MigrationService
	DB         Pinger
	Cookie     CookieConfig
	Logger     *zap.Logger
	Now        func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Cookie.Name == "" {
		d.Cookie.Name = "comms_auth"
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	deps = deps.withDefaults()
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(deps.Logger, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.PingContext(ctx); err != nil {
				deps.Logger.Warn("readiness check failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	registerAuthHandlers(mux, deps)
	registerMessageHandlers(mux, deps)
	registerStatsHandlers(mux, deps)
	registerMigrationHandlers(mux, deps)

	return mux
}

func registerMigrationHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("GET /system/migrations", withSession(deps, func(w http.ResponseWriter, r *http.Request, _ auth.Validation) {
		if deps.Migrations == nil {
			writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
			return
		}
		status, err := deps.Migrations.Status(r.Context())
		if err != nil {
			logFor(deps.Logger, r).Error("migration status failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "migration status failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": status})
	}))
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Info("http request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

func logFor(log *zap.Logger, r *http.Request) *zap.Logger {
	if id := requestIDFromContext(r.Context()); id != "" {
		return log.With(zap.String("request_id", id))
	}
	return log
}
