// Package api provides HTTP handlers for the SalesPipe admin endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/valueplus/salespipe/internal/models"
)

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if ids, err := s.st.ListCustomerIDs(); err != nil {
		slog.Warn("Server.healthHandler: failed to list customers", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to fetch customer metrics"
	} else {
		healthData["customers"] = len(ids)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

// summariesHandler serves GET /summaries and GET /summaries/{id}.
func (s *Server) summariesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.summariesHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.summariesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/summaries"), "/")
	if id == "" {
		summaries, err := s.st.ListSummaries()
		if err != nil {
			slog.Error("Server.summariesHandler: failed to list summaries", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch summaries"))
			return
		}
		slog.Debug("Server.summariesHandler: summaries fetched", "count", len(summaries))
		writeJSONResponse(w, http.StatusOK, models.Success(summaries))
		return
	}

	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(id)
	if err != nil {
		slog.Warn("Server.summariesHandler: invalid customer ID", "id", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	rec, err := s.st.GetSummary(canonical)
	if err != nil {
		slog.Error("Server.summariesHandler: failed to fetch summary", "customerID", canonical, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch summary"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Summary not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// statsHandler serves GET /stats with aggregate summary statistics.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	summaries, err := s.st.ListSummaries()
	if err != nil {
		slog.Error("Server.statsHandler: failed to list summaries", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch summaries"))
		return
	}
	ids, err := s.st.ListCustomerIDs()
	if err != nil {
		slog.Error("Server.statsHandler: failed to list customers", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customers"))
		return
	}

	var sumMessages int
	for _, rec := range summaries {
		sumMessages += rec.TotalMessages
	}
	avgMessages := 0.0
	if len(summaries) > 0 {
		avgMessages = float64(sumMessages) / float64(len(summaries))
	}
	stats := map[string]interface{}{
		"total_customers":          len(ids),
		"total_summaries":          len(summaries),
		"avg_messages_per_summary": avgMessages,
	}
	slog.Debug("Server.statsHandler: stats computed", "total_customers", len(ids), "total_summaries", len(summaries))
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// customersHandler routes /customers/{id}/bot and /customers/{id}/history.
func (s *Server) customersHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.customersHandler: processing request", "method", r.Method, "path", r.URL.Path)

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/customers"), "/")
	segments := strings.Split(path, "/")
	if len(segments) != 2 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown customer endpoint"))
		return
	}

	canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(segments[0])
	if err != nil {
		slog.Warn("Server.customersHandler: invalid customer ID", "id", segments[0], "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	switch segments[1] {
	case "bot":
		s.botToggleHandler(w, r, canonical)
	case "history":
		s.historyHandler(w, r, canonical)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown customer endpoint"))
	}
}

// botToggleRequest is the body of POST /customers/{id}/bot.
type botToggleRequest struct {
	Active *bool `json:"active"`
}

// botToggleHandler handles POST /customers/{id}/bot, the operator switch
// that silences or resumes the bot for one customer.
func (s *Server) botToggleHandler(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.botToggleHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req botToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.botToggleHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Active == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: active"))
		return
	}

	err := s.customers.WithLock(customerID, func(c *models.Customer) error {
		c.BotActive = *req.Active
		s.customers.Persist(c)
		return nil
	})
	if err != nil {
		slog.Error("Server.botToggleHandler: failed to update customer", "customerID", customerID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update customer"))
		return
	}

	slog.Info("Server.botToggleHandler: bot state updated", "customerID", customerID, "active", *req.Active)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Bot state updated", map[string]interface{}{
		"customer_id": customerID,
		"active":      *req.Active,
	}))
}

// historyHandler handles GET /customers/{id}/history.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request, customerID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.historyHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	c, err := s.st.GetCustomer(customerID)
	if err != nil {
		slog.Error("Server.historyHandler: failed to fetch customer", "customerID", customerID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch customer"))
		return
	}
	if c == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Customer not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(c))
}
