// Package handlers groups the HTTP handlers of the admin surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hausofbasquiat/gatekeeper/internal/core/domain"
	"github.com/hausofbasquiat/gatekeeper/internal/core/services"
)

// Admin exposes the administrative reset and analytics operations.
type Admin struct {
	governor *services.Governor
	adaptive *services.Adaptive
}

func NewAdmin(governor *services.Governor, adaptive *services.Adaptive) *Admin {
	return &Admin{governor: governor, adaptive: adaptive}
}

// Analytics returns aggregated behavior data for the admin dashboard.
func (h *Admin) Analytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.adaptive.Analytics())
}

// ResetLimit clears rate records: one action/identifier pair when given,
// everything otherwise.
func (h *Admin) ResetLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action     string `json:"action"`
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if body.Action == "" && body.Identifier == "" {
		h.governor.ClearAll(r.Context())
	} else {
		h.governor.ClearLimit(r.Context(), domain.ActionType(body.Action), body.Identifier)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetBehavior drops the behavior profile of one identifier, clearing its
// suspicious flag after an admin review.
func (h *Admin) ResetBehavior(w http.ResponseWriter, r *http.Request) {
	identifier, ok := decodeIdentifier(w, r, "identifier")
	if !ok {
		return
	}
	h.adaptive.ResetBehavior(identifier)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WhitelistIP removes a source address from the suspicious set.
func (h *Admin) WhitelistIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIdentifier(w, r, "ip")
	if !ok {
		return
	}
	h.adaptive.WhitelistIP(ip)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MarkSuspiciousIP adds a source address to the suspicious set.
func (h *Admin) MarkSuspiciousIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := decodeIdentifier(w, r, "ip")
	if !ok {
		return
	}
	h.adaptive.MarkSuspiciousIP(ip)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeIdentifier(w http.ResponseWriter, r *http.Request, field string) (string, bool) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return "", false
	}
	value := strings.TrimSpace(body[field])
	if value == "" {
		http.Error(w, field+" is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
