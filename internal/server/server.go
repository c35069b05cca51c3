// Package server exposes the anonymizer over a local HTTP API.
//
// Endpoints:
//
//	GET    /status              - health, uptime, active settings summary
//	GET    /metrics             - counters snapshot
//	POST   /anonymize           - {"text","names","profile","config"} -> {"text","report"}
//	POST   /anonymize/json      - {"document","names","profile","config"} -> {"document","report"}
//	POST   /anonymize/batch     - {"texts","names","profile","config"} -> {"results"}
//	GET    /profiles            - saved profile names
//	GET    /profiles/{name}     - one profile
//	PUT    /profiles/{name}     - save a profile
//	DELETE /profiles/{name}     - remove a profile
//
// Settings for an anonymize call come from the inline "config" when given,
// else the named "profile", else the configured default profile. When the
// default profile has never been saved the built-in defaults apply with the
// engine enabled.
//
// The server is reachable over HTTP/1.1 and cleartext HTTP/2.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"judicial-anonymizer/internal/anonymizer"
	"judicial-anonymizer/internal/config"
	"judicial-anonymizer/internal/logger"
	"judicial-anonymizer/internal/metrics"
	"judicial-anonymizer/internal/profiles"
)

// MaxBatchSize bounds the number of documents in one batch request.
const MaxBatchSize = 1000

// RequestIDHeader carries the request ID on every response.
const RequestIDHeader = "X-Request-ID"

// Server is the anonymizer API server.
type Server struct {
	cfg       *config.Config
	store     profiles.Store
	metrics   *metrics.Metrics // nil = no metrics
	log       *logger.Logger
	authLog   *logger.Logger
	token     string // bearer token for auth; empty = no auth
	startTime time.Time
}

// New creates an API server backed by store.
func New(cfg *config.Config, store profiles.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		metrics:   m,
		log:       logger.New("SERVER", cfg.LogLevel),
		token:     cfg.APIToken,
		startTime: time.Now(),
	}
	s.authLog = s.log.Module("AUTH")
	if s.token != "" {
		s.log.Info("init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /anonymize", s.handleAnonymize)
	mux.HandleFunc("POST /anonymize/json", s.handleAnonymizeJSON)
	mux.HandleFunc("POST /anonymize/batch", s.handleAnonymizeBatch)
	mux.HandleFunc("GET /profiles", s.handleListProfiles)
	mux.HandleFunc("GET /profiles/{name}", s.handleGetProfile)
	mux.HandleFunc("PUT /profiles/{name}", s.handlePutProfile)
	mux.HandleFunc("DELETE /profiles/{name}", s.handleDeleteProfile)
	return s.requestIDMiddleware(s.authMiddleware(mux))
}

type ctxKey struct{}

// requestID returns the ID assigned by requestIDMiddleware.
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// requestIDMiddleware keeps a caller-supplied UUID or assigns a new one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.authLog.Warn("check", "unauthorized request", "id", requestID(r), "remote", r.RemoteAddr, "path", r.URL.Path)
			s.reject()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) reject() {
	if s.metrics != nil {
		s.metrics.RequestsRejected.Add(1)
	}
}

// settings is the part of every anonymize request that selects the config.
type settings struct {
	Names   []string           `json:"names"`
	Profile string             `json:"profile"`
	Config  *anonymizer.Config `json:"config"`
}

// resolve picks the effective config for a request. A named profile that
// does not exist is an error; a missing default profile is not.
func (s *Server) resolve(st settings) (*anonymizer.Config, error) {
	if st.Config != nil {
		return st.Config, nil
	}
	if st.Profile != "" {
		return s.store.Get(st.Profile)
	}
	cfg, err := s.store.Get(s.cfg.DefaultProfile)
	if errors.Is(err, profiles.ErrNotFound) {
		d := anonymizer.DefaultConfig()
		d.Enabled = true
		return &d, nil
	}
	return cfg, err
}

// decodeRequest reads a JSON body capped at MaxBodyBytes into v and
// resolves its settings. It writes the error response itself and returns
// false on failure.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any, st *settings) (*anonymizer.Config, bool) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.Add(1)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.reject()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	cfg, err := s.resolve(*st)
	s.log.Debugf("resolve", "request %s: profile=%q inline=%t", requestID(r), st.Profile, st.Config != nil)
	if err != nil {
		s.reject()
		if errors.Is(err, profiles.ErrNotFound) {
			http.Error(w, fmt.Sprintf("profile %q not found", st.Profile), http.StatusNotFound)
			return nil, false
		}
		s.log.Error("resolve", "profile lookup failed", "id", requestID(r), "err", err)
		http.Error(w, "profile lookup failed", http.StatusInternalServerError)
		return nil, false
	}
	if !cfg.Enabled && s.metrics != nil {
		s.metrics.RequestsDisabled.Add(1)
	}
	return cfg, true
}

func (s *Server) record(r *http.Request, action string, rep anonymizer.Report, start time.Time) {
	if s.log.Enabled(logger.LevelDebug) {
		s.log.Debug(action, "categories", "id", requestID(r), "counts", categoryCounts(rep),
			"persons", rep.Persons, "names", rep.NameReplacements)
	}
	if s.metrics == nil {
		return
	}
	s.metrics.RecordReport(rep)
	s.metrics.RecordLatency(time.Since(start))
}

// categoryCounts formats per-category counts as "CPF:2,EMAIL:1" in priority
// order.
func categoryCounts(rep anonymizer.Report) string {
	var b strings.Builder
	for _, c := range anonymizer.Categories() {
		n := rep.Categories[c]
		if n == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(c))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		settings
		Text string `json:"text"`
	}
	cfg, ok := s.decodeRequest(w, r, &req, &req.settings)
	if !ok {
		return
	}

	out, rep := anonymizer.AnonymizeWithReport(req.Text, cfg, req.Names)
	s.record(r, "anonymize", rep, start)
	s.log.Info("anonymize", "done", "id", requestID(r), "bytes", len(req.Text), "tokens", rep.Total())

	s.writeJSON(w, http.StatusOK, struct {
		ID     string            `json:"id"`
		Text   string            `json:"text"`
		Report anonymizer.Report `json:"report"`
	}{requestID(r), out, rep})
}

func (s *Server) handleAnonymizeJSON(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		settings
		Document json.RawMessage `json:"document"`
	}
	cfg, ok := s.decodeRequest(w, r, &req, &req.settings)
	if !ok {
		return
	}
	if len(req.Document) == 0 {
		s.reject()
		http.Error(w, `invalid request: need {"document":...}`, http.StatusBadRequest)
		return
	}

	out, rep := anonymizer.AnonymizeJSONWithReport(req.Document, cfg, req.Names)
	s.record(r, "anonymize_json", rep, start)
	s.log.Info("anonymize_json", "done", "id", requestID(r), "bytes", len(req.Document), "tokens", rep.Total())

	s.writeJSON(w, http.StatusOK, struct {
		ID       string            `json:"id"`
		Document json.RawMessage   `json:"document"`
		Report   anonymizer.Report `json:"report"`
	}{requestID(r), out, rep})
}

func (s *Server) handleAnonymizeBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		settings
		Texts []string `json:"texts"`
	}
	cfg, ok := s.decodeRequest(w, r, &req, &req.settings)
	if !ok {
		return
	}
	if len(req.Texts) > MaxBatchSize {
		s.reject()
		http.Error(w, "batch too large: max "+strconv.Itoa(MaxBatchSize)+" texts", http.StatusRequestEntityTooLarge)
		return
	}

	results, err := anonymizer.AnonymizeBatch(r.Context(), req.Texts, cfg, req.Names, s.cfg.BatchWorkers)
	if err != nil {
		// Only a cancelled request context gets here; the client is gone.
		s.log.Warn("anonymize_batch", "cancelled", "id", requestID(r), "err", err)
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
		return
	}
	total := 0
	for _, res := range results {
		total += res.Report.Total()
		if s.metrics != nil {
			s.metrics.RecordReport(res.Report)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordLatency(time.Since(start))
	}
	s.log.Info("anonymize_batch", "done", "id", requestID(r), "documents", len(results), "tokens", total)

	s.writeJSON(w, http.StatusOK, struct {
		ID      string              `json:"id"`
		Results []anonymizer.Result `json:"results"`
	}{requestID(r), results})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		s.log.Error("profiles", "list failed", "id", requestID(r), "err", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"profiles": names})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cfg, err := s.store.Get(name)
	if err != nil {
		s.writeStoreError(w, r, name, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	cfg := anonymizer.DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.reject()
		http.Error(w, "invalid profile: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.Put(name, &cfg); err != nil {
		s.writeStoreError(w, r, name, err)
		return
	}
	s.log.Info("profiles", "saved", "id", requestID(r), "name", name, "enabled", cfg.Enabled)
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.Delete(name); err != nil {
		s.writeStoreError(w, r, name, err)
		return
	}
	s.log.Info("profiles", "deleted", "id", requestID(r), "name", name)
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, name string, err error) {
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		http.Error(w, fmt.Sprintf("profile %q not found", name), http.StatusNotFound)
	case errors.Is(err, profiles.ErrInvalidName):
		s.reject()
		http.Error(w, "invalid profile name", http.StatusBadRequest)
	default:
		s.log.Error("profiles", "store error", "id", requestID(r), "name", name, "err", err)
		http.Error(w, "profile store error", http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status         string                `json:"status"`
		Uptime         string                `json:"uptime"`
		Port           int                   `json:"port"`
		DefaultProfile string                `json:"defaultProfile"`
		Categories     []anonymizer.Category `json:"categories"`
		AuthEnabled    bool                  `json:"authEnabled"`
	}
	s.writeJSON(w, http.StatusOK, response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		Port:           s.cfg.Port,
		DefaultProfile: s.cfg.DefaultProfile,
		Categories:     anonymizer.Categories(),
		AuthEnabled:    s.token != "",
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write_json", "JSON encode error: %v", err)
	}
}

// ListenAndServe serves the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listen", "listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutdown", "stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
