// internal/fixture/server.go
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/signupguard/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// SessionCookie is set on successful signup.
	SessionCookie = "linkwell_session"
	// DefaultStorageKey is the localStorage key the client sets after signup.
	DefaultStorageKey = "linkwell_user_email"

	shutdownGracePeriod = 5 * time.Second
)

// Options configures the stand-in application.
type Options struct {
	HydrationDelay    time.Duration
	FlakyLoads        int
	NativeValidation  bool
	MinPasswordLength int
	StorageKey        string
}

// OptionsFromConfig maps the fixture section of the application config.
func OptionsFromConfig(cfg config.FixtureConfig, storageKey string) Options {
	return Options{
		HydrationDelay:    cfg.HydrationDelay,
		FlakyLoads:        cfg.FlakyLoads,
		NativeValidation:  cfg.NativeValidation,
		MinPasswordLength: cfg.MinPasswordLength,
		StorageKey:        storageKey,
	}
}

func (o Options) withDefaults() Options {
	if o.HydrationDelay < 0 {
		o.HydrationDelay = 0
	}
	if o.MinPasswordLength <= 0 {
		o.MinPasswordLength = 8
	}
	if o.StorageKey == "" {
		o.StorageKey = DefaultStorageKey
	}
	return o
}

// Server serves the client-rendered signup application and its signup API.
type Server struct {
	opts     Options
	logger   *zap.Logger
	renderer *Renderer
	accounts *AccountStore
	router   chi.Router
	loads    atomic.Int64
}

// New builds the fixture server.
func New(opts Options, logger *zap.Logger) (*Server, error) {
	opts = opts.withDefaults()
	renderer, err := NewRenderer(opts)
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		logger:   logger.Named("fixture"),
		renderer: renderer,
		accounts: NewAccountStore(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	assets, _ := fs.Sub(webFS, "web")
	router.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(assets))))

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/signup", s.handleSignup)
	})

	// Every other GET is an application route rendered client-side.
	router.Get("/*", s.handleShell)
	return router
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Accounts lists the accounts created so far.
func (s *Server) Accounts() []Account { return s.accounts.List() }

// Loads reports how many application documents were served.
func (s *Server) Loads() int64 { return s.loads.Load() }

// Renderer exposes the view renderer so callers can produce hydrated snapshots.
func (s *Server) Renderer() *Renderer { return s.renderer }

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Fixture application listening.", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("fixture shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("Fixture application stopped.")
	return nil
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("fixture listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	load := s.loads.Add(1)
	flaky := load <= int64(s.opts.FlakyLoads)
	if flaky {
		s.logger.Debug("Serving flaky load.", zap.Int64("load", load), zap.String("path", r.URL.Path))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.renderer.Shell(w, flaky); err != nil {
		s.logger.Error("Failed to render shell.", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Flow     string `json:"flow"`
}

type signupResponse struct {
	Email string `json:"email,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, signupResponse{Error: "malformed request body"})
		return
	}
	if req.Flow != "" && req.Flow != "signUp" {
		writeJSON(w, http.StatusBadRequest, signupResponse{Error: "unsupported flow"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if msg := ValidateSignup(email, req.Password, req.Password, s.opts.MinPasswordLength); msg != "" {
		s.logger.Info("Rejected signup.", zap.String("email", email), zap.String("reason", msg))
		writeJSON(w, http.StatusBadRequest, signupResponse{Error: msg})
		return
	}

	account, err := s.accounts.Create(email)
	if err != nil {
		writeJSON(w, http.StatusConflict, signupResponse{Error: err.Error()})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    uuid.NewString(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("Created account.", zap.String("email", account.Email))
	writeJSON(w, http.StatusCreated, signupResponse{Email: account.Email})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
