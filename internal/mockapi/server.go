// Package mockapi is an in-memory double of the remote REST API. It serves the
// CLI's mock-api command and integration tests.
package mockapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/observability/log"
)

const RefreshCookie = "refresh_token"

type failKey struct {
	method     string
	entityType string
}

type failure struct {
	remaining int
	status    int
}

// Option configures a Server.
type Option func(*Server)

// WithToken accepts token as a valid bearer token.
func WithToken(token string) Option {
	return func(s *Server) { s.tokens[token] = true }
}

// WithRefreshToken accepts value in the refresh cookie.
func WithRefreshToken(value string) Option {
	return func(s *Server) { s.refreshTokens[value] = true }
}

// WithRestricted makes every request for entityType fail with 401, as the real
// API does for callers lacking the role.
func WithRestricted(entityTypes ...string) Option {
	return func(s *Server) {
		for _, t := range entityTypes {
			s.restricted[t] = true
		}
	}
}

func WithLogger(logger log.Log) Option {
	return func(s *Server) { s.logger = logger }
}

// Server holds collections in memory and exposes them over chi routes.
type Server struct {
	router chi.Router
	logger log.Log

	mu            sync.Mutex
	collections   map[string][]entity.Record
	tokens        map[string]bool
	refreshTokens map[string]bool
	restricted    map[string]bool
	failures      map[failKey]*failure
	requests      []string
}

func New(opts ...Option) *Server {
	s := &Server{
		logger:        log.NewNop(),
		collections:   make(map[string][]entity.Record),
		tokens:        make(map[string]bool),
		refreshTokens: make(map[string]bool),
		restricted:    make(map[string]bool),
		failures:      make(map[failKey]*failure),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.String("component", "mockapi"))
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.injectFailures)
			r.Get("/{entityType}", s.list)
			r.Post("/{entityType}", s.create)
			r.Patch("/{entityType}/{id}", s.update)
			r.Delete("/{entityType}/{id}", s.remove)
		})
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Seed replaces the collection for entityType.
func (s *Server) Seed(entityType string, records []entity.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[entityType] = entity.CloneAll(records)
}

// Records returns a copy of the collection for entityType.
func (s *Server) Records(entityType string) []entity.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return entity.CloneAll(s.collections[entityType])
}

// FailNext makes the next n requests with method on entityType answer status.
func (s *Server) FailNext(method, entityType string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failKey{method: method, entityType: entityType}] = &failure{remaining: n, status: status}
}

// RevokeTokens invalidates every issued access token so the next request needs a refresh.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.tokens)
}

// RevokeRefreshTokens invalidates every refresh cookie.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refreshTokens)
}

// Requests lists the requests served so far as "METHOD /path".
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		s.logger.Debug("Request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.String("request_id", r.Header.Get("X-Request-Id")),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		entityType := firstSegment(r.URL.Path)
		s.mu.Lock()
		valid := ok && s.tokens[token]
		restricted := s.restricted[entityType]
		s.mu.Unlock()
		if !valid || restricted {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := failKey{method: r.Method, entityType: firstSegment(r.URL.Path)}
		s.mu.Lock()
		f := s.failures[key]
		status := 0
		if f != nil && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	access, refresh := uuid.NewString(), uuid.NewString()
	s.mu.Lock()
	s.tokens[access] = true
	s.refreshTokens[refresh] = true
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: refresh, Path: "/api/auth", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"accessToken": access}})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	s.mu.Lock()
	valid := s.refreshTokens[cookie.Value]
	access := ""
	if valid {
		access = uuid.NewString()
		s.tokens[access] = true
	}
	s.mu.Unlock()
	if !valid {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"accessToken": access}})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	writeJSON(w, http.StatusOK, map[string]any{"data": s.Records(entityType)})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !rec.HasID() {
		rec["id"] = uuid.NewString()
	}

	s.mu.Lock()
	current := s.collections[entityType]
	if entity.IndexOf(current, rec.ID()) >= 0 {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("%s %s already exists", entityType, rec.ID()))
		return
	}
	s.collections[entityType] = append(current, rec.Clone())
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"data": rec})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	entityType, id := chi.URLParam(r, "entityType"), chi.URLParam(r, "id")
	patch, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delete(patch, "id")

	s.mu.Lock()
	current := s.collections[entityType]
	i := entity.IndexOf(current, id)
	if i < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", entityType, id))
		return
	}
	current[i] = current[i].Merge(patch)
	merged := current[i].Clone()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"data": merged})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	entityType, id := chi.URLParam(r, "entityType"), chi.URLParam(r, "id")
	s.mu.Lock()
	current := s.collections[entityType]
	i := entity.IndexOf(current, id)
	if i < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", entityType, id))
		return
	}
	s.collections[entityType] = append(current[:i:i], current[i+1:]...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"id": id}})
}

func decodeRecord(r *http.Request) (entity.Record, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err
	}
	rec := entity.Record{}
	if buf.Len() == 0 {
		return rec, nil
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	return rec, nil
}

// firstSegment returns the entity type of an /api/{entityType}[/...] path.
func firstSegment(path string) string {
	rest := strings.TrimPrefix(path, "/api/")
	seg, _, _ := strings.Cut(rest, "/")
	return seg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
