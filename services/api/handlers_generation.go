package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// handleGetGeneration reads back all four counters for one device. The
// device compares want against have locally and decides what to do; the
// read itself mutates nothing and is safe to poll at any frequency.
func (a *API) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	dep, _, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"configGenerationWant": dep.ConfigGenerationWant,
		"configGenerationHave": dep.ConfigGenerationHave,
		"updateGenerationWant": dep.UpdateGenerationWant,
		"updateGenerationHave": dep.UpdateGenerationHave,
	})
}

func (a *API) handlePushGenerationConfig(w http.ResponseWriter, r *http.Request) {
	a.pushGeneration(w, r, "config")
}

func (a *API) handlePushGenerationUpdate(w http.ResponseWriter, r *http.Request) {
	a.pushGeneration(w, r, "update")
}

// pushGeneration records the device-reported have for one axis. It never
// touches want, and does not enforce monotonicity: have is last-write-wins
// and only communicates "last known applied version".
func (a *API) pushGeneration(w http.ResponseWriter, r *http.Request, axis string) {
	dep, body, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		ID         string `json:"id"`
		Generation *int64 `json:"generation"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondKind(w, KindValidation, "malformed request body")
		return
	}
	if req.Generation == nil || *req.Generation < 0 {
		respondKind(w, KindValidation, "generation must be a non-negative integer")
		return
	}

	column := "config_generation_have"
	if axis == "update" {
		column = "update_generation_have"
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.Registry.UpdateFields(ctx, dep.ID, map[string]any{column: *req.Generation}); err != nil {
		respondFailure(w, err)
		return
	}

	generationPushesTotal.WithLabelValues(axis).Inc()
	a.publishJSON(generationTopic, map[string]any{
		"deployment_id": dep.ID,
		"axis":          axis,
		"side":          "have",
		"generation":    *req.Generation,
	})

	respondJSON(w, http.StatusOK, map[string]any{"generation": *req.Generation})
}

func (a *API) handleAllowGenerationConfig(w http.ResponseWriter, r *http.Request) {
	a.allowGeneration(w, r, "config")
}

func (a *API) handleAllowGenerationUpdate(w http.ResponseWriter, r *http.Request) {
	a.allowGeneration(w, r, "update")
}

// allowGeneration is the operator half of the exchange: set want for one
// axis and mark the device as having pending work. The operator is trusted
// to keep want non-decreasing.
func (a *API) allowGeneration(w http.ResponseWriter, r *http.Request, axis string) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	var req struct {
		ID         string `json:"id"`
		Generation *int64 `json:"generation"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondKind(w, KindValidation, err.Error())
		return
	}
	if req.Generation == nil || *req.Generation < 0 {
		respondKind(w, KindValidation, "generation must be a non-negative integer")
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if _, err := a.store.Registry.GetForOwner(ctx, req.ID, op.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			respondKind(w, KindNotFound, "deployment not found")
			return
		}
		respondFailure(w, err)
		return
	}

	column, status := "config_generation_want", StatusPendingReconfiguration
	if axis == "update" {
		column, status = "update_generation_want", StatusPendingUpdate
	}

	fields := map[string]any{
		column:   *req.Generation,
		"status": status,
	}
	if err := a.store.Registry.UpdateFields(ctx, req.ID, fields); err != nil {
		respondFailure(w, err)
		return
	}

	generationAllowsTotal.WithLabelValues(axis).Inc()
	a.publishJSON(generationTopic, map[string]any{
		"deployment_id": req.ID,
		"axis":          axis,
		"side":          "want",
		"generation":    *req.Generation,
	})

	respondJSON(w, http.StatusOK, map[string]any{"generation": *req.Generation, "status": status})
}
