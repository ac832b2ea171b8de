package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/events"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/scheduler"
)

const maxBody = 1 << 16

// HandleLiveData returns the latest snapshot set keyed by zone id.
func (g *Gateway) HandleLiveData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.pipeline.Snapshots().Latest())
}

func (g *Gateway) HandlePredictions(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	zone := strings.TrimSpace(r.URL.Query().Get("zone"))
	if !g.knownZone(zone) {
		writeError(w, http.StatusBadRequest, "unknown zone")
		return
	}
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()

	recs, err := g.store.RecentPredictions(ctx, zone, limit)
	if err != nil {
		g.log.Warn().Err(err).Str("zone", zone).Msg("predictions query failed")
		writeError(w, http.StatusBadGateway, "predictions unavailable")
		return
	}
	if recs == nil {
		recs = []messages.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[messages.PredictionRecord]{Zone: zone, Count: len(recs), Items: recs})
}

func (g *Gateway) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	zone := strings.TrimSpace(r.URL.Query().Get("zone"))
	if !g.knownZone(zone) {
		writeError(w, http.StatusBadRequest, "unknown zone")
		return
	}
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()

	recs, err := g.store.RecentAlerts(ctx, zone, limit)
	if err != nil {
		g.log.Warn().Err(err).Str("zone", zone).Msg("alerts query failed")
		writeError(w, http.StatusBadGateway, "alerts unavailable")
		return
	}
	if recs == nil {
		recs = []messages.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[messages.AlertRecord]{Zone: zone, Count: len(recs), Items: recs})
}

// knownZone accepts the empty zone, meaning every zone.
func (g *Gateway) knownZone(id string) bool {
	if id == "" {
		return true
	}
	for _, z := range g.pipeline.Zones() {
		if z.ID == id {
			return true
		}
	}
	return false
}

// HandlePredict scores one feature record; unknown zones and malformed input
// are 400s.
func (g *Gateway) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var req scheduler.PredictRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()

	resp, err := g.pipeline.Predict(ctx, req)
	switch {
	case errors.Is(err, scheduler.ErrUnknownZone), errors.Is(err, scheduler.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.log.Error().Err(err).Str("location", req.Location).Msg("predict failed")
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleZones lists the configured zones with their latest reading, if any.
func (g *Gateway) HandleZones(w http.ResponseWriter, _ *http.Request) {
	latest := g.pipeline.Snapshots().Latest()
	zones := g.pipeline.Zones()
	out := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		v := zoneView{Zone: z}
		if snap, ok := latest.Zones[z.ID]; ok {
			cur, cri := snap.Current, snap.CRI
			v.Current, v.CRI = &cur, &cri
			v.RiskLevel = string(snap.RiskLevel)
			v.Status = snap.Status
			v.Predicted = snap.Predicted
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) HandleEvents(w http.ResponseWriter, _ *http.Request) {
	if g.events == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, g.events.List())
}

func (g *Gateway) HandleEventStatus(w http.ResponseWriter, r *http.Request) {
	if g.events == nil {
		writeError(w, http.StatusServiceUnavailable, "no event registry configured")
		return
	}
	id := mux.Vars(r)["id"]

	var body statusUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	body.normalize()

	ev, err := g.events.SetStatus(r.Context(), id, body.Status, body.Message)
	switch {
	case errors.Is(err, events.ErrUnknownEvent):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, events.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady fails while no tick has run, the latest set is stale, or the
// store reports recent write errors.
func (g *Gateway) HandleReady(w http.ResponseWriter, _ *http.Request) {
	snaps := g.pipeline.Snapshots()
	latest := snaps.Latest()
	age := snaps.Age(g.now())

	resp := healthResponse{Status: "ready", Tick: latest.Tick, AgeSec: age.Seconds(), Checks: map[string]string{}}
	switch {
	case latest.Tick == 0:
		resp.Problems = append(resp.Problems, "no tick yet")
		resp.Checks["scheduler"] = "starting"
	case age > g.cfg.StaleAfter:
		resp.Problems = append(resp.Problems, "snapshot stale")
		resp.Checks["scheduler"] = "stale"
	default:
		resp.Checks["scheduler"] = "ok"
	}
	if g.store != nil {
		if g.store.Healthy() {
			resp.Checks["store"] = "ok"
		} else {
			resp.Problems = append(resp.Problems, "store failing")
			resp.Checks["store"] = "failing"
		}
	}

	status := http.StatusOK
	if len(resp.Problems) > 0 {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
