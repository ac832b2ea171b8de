package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
)

type errorResponse struct {
	Error string `json:"error"`
}

type listResponse[T any] struct {
	Zone  string `json:"zone,omitempty"`
	Count int    `json:"count"`
	Items []T    `json:"items"`
}

// statusUpdate is the body of PUT /events/{id}/status.
type statusUpdate struct {
	Status  entities.EventStatus `json:"status"`
	Message string               `json:"message"`
}

func (u *statusUpdate) normalize() {
	u.Status = entities.EventStatus(strings.ToUpper(strings.TrimSpace(string(u.Status))))
	u.Message = strings.TrimSpace(u.Message)
}

type zoneView struct {
	entities.Zone
	Current   *int    `json:"current,omitempty"`
	CRI       *int    `json:"cri,omitempty"`
	RiskLevel string  `json:"risk_level,omitempty"`
	Status    string  `json:"status,omitempty"`
	Predicted float64 `json:"predicted,omitempty"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Tick     uint64            `json:"tick"`
	AgeSec   float64           `json:"snapshot_age_s"`
	Problems []string          `json:"problems,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// limitParam reads ?limit=, 0 when absent so the store applies its page size.
func limitParam(r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
