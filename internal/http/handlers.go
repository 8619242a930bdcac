package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	applog "piggybank/internal/log"
	"piggybank/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks templates and backend reachability.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	switch {
	case s.deps.Ready == nil:
		checks["backend"] = "not_configured"
	default:
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			checks["backend"] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["backend"] = "ok"
		}
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	tm := s.trace.GetMetrics()
	sm := s.detector.GetMetrics()

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", tm.TotalRequests)
	metric("http_requests_in_flight", "gauge", "Requests currently being served", tm.InFlight)
	metric("http_server_errors_total", "counter", "Responses with a 5xx status", tm.ServerErrors)
	metric("http_request_duration_avg_ms", "gauge", "Average request latency in milliseconds", fmt.Sprintf("%.2f", tm.AverageLatencyMs))
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", sm.SuspiciousRequests)

	if s.deps.CacheStats != nil {
		cs := s.deps.CacheStats()
		metric("query_cache_hits_total", "counter", "Query cache hits", cs.Hits)
		metric("query_cache_misses_total", "counter", "Query cache misses", cs.Misses)
		metric("query_cache_invalidations_total", "counter", "Query cache invalidations", cs.Invalidations)
		metric("query_cache_entries", "gauge", "Current query cache entries", cs.Entries)
	}

	metric("uptime_seconds", "gauge", "Application uptime in seconds", fmt.Sprintf("%.0f", time.Since(s.started).Seconds()))
}

// handleIndex renders the dashboard. Collections that failed to load show
// an inline error and contribute zero to the totals.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	d, err := s.deps.Savings.LoadDashboard(r.Context(), sess)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to load your savings.")
		return
	}
	s.render(w, r, http.StatusOK, "index.html", dashboardFrom(sess.User, d), nil)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	d, err := s.deps.Savings.LoadDashboard(r.Context(), sess)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to load your savings.")
		return
	}
	s.render(w, r, http.StatusOK, "overview", dashboardFrom(sess.User, d).Overview, nil)
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	goals, err := s.deps.Savings.ListGoals(r.Context(), sess)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list goals", applog.FieldError, err, applog.FieldUserID, sess.UserID())
	}
	s.render(w, r, http.StatusOK, "goals", goalsView{Goals: goals, Error: err != nil}, nil)
}

func (s *Server) handleDeposits(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	d, err := s.deps.Savings.LoadDashboard(r.Context(), sess)
	if err != nil {
		s.writeServiceError(w, r, err, "Failed to load your savings.")
		return
	}
	s.render(w, r, http.StatusOK, "deposits", dashboardFrom(sess.User, d).Deposits, nil)
}

// handleDepositForm re-renders the deposit form so its goal options follow
// the loaded goal list.
func (s *Server) handleDepositForm(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	goals, err := s.deps.Savings.ListGoals(r.Context(), sess)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list goals", applog.FieldError, err, applog.FieldUserID, sess.UserID())
	}
	s.render(w, r, http.StatusOK, "deposit_form", depositFormView{Goals: goals, GoalsError: err != nil}, nil)
}
