package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"xnoded/pkg/psk"
)

// handlePushServices replaces the stored service configuration and bumps the
// config want counter so the device's next poll sees pending work. Status is
// deliberately left alone: only the explicit allow call marks pending work.
func (a *API) handlePushServices(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	var req struct {
		ID       string `json:"id"`
		Services string `json:"services"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondKind(w, KindValidation, err.Error())
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dep, err := a.store.Registry.GetForOwner(ctx, req.ID, op.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondKind(w, KindNotFound, "deployment not found")
			return
		}
		respondFailure(w, err)
		return
	}

	want := dep.ConfigGenerationWant + 1
	fields := map[string]any{
		"services":               req.Services,
		"config_generation_want": want,
	}
	if err := a.store.Registry.UpdateFields(ctx, req.ID, fields); err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"configGenerationWant": want})
}

// handleGetServices hands the stored configuration to the device together
// with a MAC over the exact message bytes, so the device can check that the
// config it is about to apply came from a party holding its token. The
// services column is stored and returned verbatim; re-encoding it would
// break the signature.
func (a *API) handleGetServices(w http.ResponseWriter, r *http.Request) {
	dep, _, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	mac, err := psk.ComputeMAC(dep.AccessToken, dep.Services)
	if err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": dep.Services,
		"hmac":    mac,
	})
}

// handlePushHeartbeat stores the reported metrics blob verbatim. The blob is
// opaque to the control plane; only the first heartbeat has a protocol
// side effect, promoting a booting device to booted.
func (a *API) handlePushHeartbeat(w http.ResponseWriter, r *http.Request) {
	dep, body, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	if !json.Valid(body) {
		respondKind(w, KindValidation, "heartbeat payload must be JSON")
		return
	}

	fields := map[string]any{"heartbeat_data": string(body)}
	if dep.Status == StatusBooting {
		fields["status"] = StatusBooted
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.Registry.UpdateFields(ctx, dep.ID, fields); err != nil {
		respondFailure(w, err)
		return
	}

	heartbeatsTotal.Inc()
	a.publishJSON(heartbeatTopic, map[string]any{
		"deployment_id": dep.ID,
	})

	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handlePushStatus overwrites the lifecycle status with whatever the device
// reports. Once authenticated the device is authoritative for its own
// status string.
func (a *API) handlePushStatus(w http.ResponseWriter, r *http.Request) {
	dep, body, ok := a.authenticateDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondKind(w, KindValidation, "malformed request body")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		respondKind(w, KindValidation, "status is required")
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.Registry.UpdateFields(ctx, dep.ID, map[string]any{"status": req.Status}); err != nil {
		respondFailure(w, err)
		return
	}

	a.publishJSON(statusTopic, map[string]any{
		"deployment_id": dep.ID,
		"status":        req.Status,
	})

	respondJSON(w, http.StatusOK, map[string]any{"status": req.Status})
}
