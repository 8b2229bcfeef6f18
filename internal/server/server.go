// Package server exposes a resolver pipeline over HTTP.
//
// Routes:
//
//	POST /v1/resolve  resolve one utterance
//	GET  /v1/intents  list the phrase corpus
//	GET  /healthz     liveness (when a health handler is set)
//	GET  /readyz      readiness (when a health handler is set)
//	GET  /metrics     Prometheus exposition (when a metrics handler is set)
//
// The pipeline is looked up on every request so that table reloads take
// effect without restarting the server.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"sync/atomic"

	"github.com/MrWong99/voxintent/internal/health"
	"github.com/MrWong99/voxintent/internal/observe"
	"github.com/MrWong99/voxintent/internal/ranking"
	"github.com/MrWong99/voxintent/internal/resolver"
)

// maxBodyBytes caps the size of a resolve request body.
const maxBodyBytes = 64 << 10

// maxExplain caps the number of candidates a client may ask for.
const maxExplain = 20

// Option is a functional option for [New].
type Option func(*Server)

// WithRequestsPerMinute enables per-client rate limiting on POST /v1/resolve.
// n <= 0 disables it.
func WithRequestsPerMinute(n int) Option {
	return func(s *Server) { s.limiter.Store(newRateLimiter(n)) }
}

// WithTrustedProxies makes the rate limiter key requests from these peers by
// their X-Forwarded-For or X-Real-IP header. Other requests are keyed by
// their remote address. Default: no trusted proxies.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(s *Server) { s.trustedProxies = prefixes }
}

// WithHealth registers /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics records HTTP request metrics to m. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server routes HTTP requests to the current resolver pipeline.
type Server struct {
	pipeline       func() *resolver.Pipeline
	limiter        atomic.Pointer[rateLimiter]
	trustedProxies []netip.Prefix
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	handler        http.Handler
}

// New creates a Server. pipeline returns the pipeline to serve; it may return
// nil while tables are still loading, in which case resolve requests fail
// with 503.
func New(pipeline func() *resolver.Pipeline, opts ...Option) *Server {
	s := &Server{pipeline: pipeline}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/resolve", s.handleResolve)
	mux.HandleFunc("GET /v1/intents", s.handleIntents)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler including tracing and metrics middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetRequestsPerMinute replaces the rate limit. Existing client buckets are
// dropped. n <= 0 disables rate limiting.
func (s *Server) SetRequestsPerMinute(n int) {
	s.limiter.Store(newRateLimiter(n))
}

// resolveRequest is the body of POST /v1/resolve.
type resolveRequest struct {
	Text string `json:"text"`

	// Explain asks for the n best candidates regardless of the threshold.
	Explain int `json:"explain,omitempty"`
}

// Candidate is one scored corpus entry in a [Response].
type Candidate struct {
	Payload    string  `json:"payload"`
	Subject    string  `json:"subject"`
	Item       string  `json:"item"`
	Score      float64 `json:"score"`
	Confidence int     `json:"confidence"`
}

// Response is the JSON form of a [resolver.Result].
type Response struct {
	Matched    bool   `json:"matched"`
	Payload    string `json:"payload,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Item       string `json:"item,omitempty"`
	Confidence int    `json:"confidence"`

	// Reason is the outcome when Matched is false.
	Reason string `json:"reason,omitempty"`

	Input      string `json:"input"`
	Normalized string `json:"normalized"`

	// Best is the closest entry, even when it was rejected.
	Best *Candidate `json:"best,omitempty"`

	Candidates []Candidate `json:"candidates,omitempty"`
}

// NewResponse converts res to its JSON form.
func NewResponse(res resolver.Result) Response {
	resp := Response{
		Matched:    res.Matched(),
		Input:      res.Input,
		Normalized: res.Normalized,
	}
	if res.Matched() {
		resp.Payload = res.Intent.Key
		resp.Subject = res.Intent.IntentType
		resp.Item = res.Intent.Item
		resp.Confidence = res.Intent.Confidence
	} else {
		resp.Reason = string(res.Outcome)
	}
	if res.Best != nil {
		best := toCandidate(*res.Best)
		resp.Best = &best
		resp.Confidence = best.Confidence
	}
	return resp
}

func toCandidate(c ranking.Candidate) Candidate {
	return Candidate{
		Payload:    c.Entry.Key,
		Subject:    c.Entry.IntentType,
		Item:       c.Entry.Item,
		Score:      c.Score,
		Confidence: ranking.Confidence(c.Score),
	}
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if rl := s.limiter.Load(); rl != nil && !rl.allow(clientIP(r, s.trustedProxies)) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req resolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Explain < 0 || req.Explain > maxExplain {
		writeError(w, http.StatusBadRequest, "explain must be between 0 and 20")
		return
	}

	p := s.pipeline()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "tables not loaded")
		return
	}

	res, err := p.Resolve(r.Context(), req.Text)
	if err != nil {
		observe.Logger(r.Context()).Warn("server: resolve aborted", "err", err)
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	resp := NewResponse(res)
	if req.Explain > 0 {
		_, candidates := p.Explain(req.Text, req.Explain)
		for _, c := range candidates {
			resp.Candidates = append(resp.Candidates, toCandidate(c))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// intentJSON is one corpus entry in GET /v1/intents.
type intentJSON struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
	Subject string `json:"subject"`
	Item    string `json:"item"`
}

type intentsResponse struct {
	Count     int          `json:"count"`
	Threshold float64      `json:"threshold"`
	Intents   []intentJSON `json:"intents"`
}

func (s *Server) handleIntents(w http.ResponseWriter, _ *http.Request) {
	p := s.pipeline()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "tables not loaded")
		return
	}

	entries := p.Corpus().Entries()
	resp := intentsResponse{
		Count:     len(entries),
		Threshold: p.Threshold(),
		Intents:   make([]intentJSON, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Intents = append(resp.Intents, intentJSON{Payload: e.Key, Text: e.Text, Subject: e.IntentType, Item: e.Item})
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
