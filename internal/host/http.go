package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/courier-dev/courier/agent"
	obsmetrics "github.com/courier-dev/courier/pkg/observability"
)

// Handler returns the dispatch API handler. Tests mount it on httptest
// servers; Start serves it on the configured HTTP address.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/dispatch", s.handleDispatch)
	mux.HandleFunc("/api/v1/shutdown", s.handleShutdown)
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.HandleFunc("/readyz", s.handleReady)
	return mux
}

func (s *Service) bindHTTP() error {
	lis, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.httpListener = lis
	s.httpServer = srv
	s.mu.Unlock()
	return nil
}

func (s *Service) serveHTTP() {
	s.mu.RLock()
	srv, lis := s.httpServer, s.httpListener
	s.mu.RUnlock()
	if srv == nil || lis == nil {
		return
	}

	log.Printf("[Host] HTTP listening on %s", lis.Addr())
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Host] HTTP server error: %v", err)
		}
	}()
}

func (s *Service) handleDispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, r, start, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var env agent.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, r, start, http.StatusBadRequest, fmt.Sprintf("decode envelope: %v", err))
		return
	}

	result, err := s.Submit(r.Context(), &env)
	if err != nil {
		s.writeError(w, r, start, submitErrorStatus(err), err.Error())
		return
	}

	s.writeJSON(w, r, start, s.resultStatus(result), replyFromResult(result))
}

func (s *Service) handleShutdown(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, r, start, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	grace := s.cfg.DrainGrace
	var req struct {
		Grace string `json:"grace"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Grace != "" {
		d, err := time.ParseDuration(req.Grace)
		if err != nil || d < 0 {
			s.writeError(w, r, start, http.StatusBadRequest, fmt.Sprintf("invalid grace %q", req.Grace))
			return
		}
		grace = d
	}

	go func() {
		if err := s.Shutdown(grace); err != nil {
			log.Printf("[Host] Shutdown request failed: %v", err)
		}
	}()

	s.writeJSON(w, r, start, http.StatusAccepted, map[string]string{
		"status": "draining",
		"grace":  grace.String(),
	})
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, r, start, http.StatusOK, map[string]interface{}{
		"state":     string(s.State()),
		"in_flight": s.InFlight(),
		"bindings":  s.registry.Size(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	state := s.State()
	status := http.StatusOK
	if state != StateRunning {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, start, status, map[string]string{"state": string(state)})
}

// submitErrorStatus maps a Submit error to an HTTP status code.
func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrInvalidEnvelope):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDropped):
		return http.StatusAccepted
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrDraining):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// resultStatus maps a dispatch result to an HTTP status code. Unmatched
// envelopes follow the configured policy: an error by default, an
// acknowledgement when the host is set to ignore them.
func (s *Service) resultStatus(result *agent.DispatchResult) int {
	switch result.Status {
	case agent.StatusSuccess:
		return http.StatusOK
	case agent.StatusPartial:
		return http.StatusMultiStatus
	case agent.StatusNotFound:
		if s.cfg.OnUnmatched == OnUnmatchedIgnore {
			return http.StatusAccepted
		}
		return http.StatusNotFound
	default:
		if result.Cancelled() {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, r *http.Request, start time.Time, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[Host] Write response failed: %v", err)
	}
	if s.cfg.EnableMetrics {
		obsmetrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(status), time.Since(start))
	}
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, start time.Time, status int, msg string) {
	s.writeJSON(w, r, start, status, map[string]string{"error": msg})
}
