package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xnoded/pkg/psk"
	"xnoded/services/ledger"
	"xnoded/services/provision"
)

func (a *API) handleCreateXnode(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	var req struct {
		DeploymentAuth string `json:"deploymentAuth"`
		IsUnit         bool   `json:"isUnit"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		Services       string `json:"services"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondKind(w, KindValidation, err.Error())
		return
	}

	if !req.IsUnit {
		// Self-managed deployments go through registerXnodeDeployment; the
		// provisioning workflow only handles claimed hardware units.
		respondKind(w, KindNotSupported, "non-unit provisioning is not supported")
		return
	}

	if !a.allowed(op.Address) {
		respondKind(w, KindAuthorization, "address is not allowed to provision units")
		return
	}

	ctx, cancel := withTimeout(r.Context())
	count, err := a.store.Registry.CountByOwner(ctx, op.ID)
	cancel()
	if err != nil {
		respondFailure(w, err)
		return
	}
	if count > int64(a.config.MaxDeployments) {
		respondKind(w, KindQuotaExceeded, "deployment limit reached")
		return
	}

	tokenID, err := parseTokenID(req.DeploymentAuth)
	if err != nil {
		respondKind(w, KindValidation, "deploymentAuth must be a decimal token id")
		return
	}

	owner, err := a.store.Ledger.OwnerOf(r.Context(), tokenID)
	if err != nil || owner == "" || !strings.EqualFold(owner, op.Address) {
		if err != nil {
			log.Warn().Err(err).Str("token_id", req.DeploymentAuth).Msg("ledger owner lookup failed")
		}
		respondKind(w, KindOwnership, "caller does not hold the claim token")
		return
	}

	claimTime, err := a.store.Ledger.MintTime(r.Context(), tokenID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoMintEvent) {
			// An owned token with no mint record contradicts the contract;
			// refuse rather than invent a claim time.
			respondKind(w, KindIntegrity, "claim token has an owner but no mint record")
			return
		}
		respondKind(w, KindIntegrity, "could not resolve claim time")
		return
	}

	accessToken, err := psk.NewAccessToken()
	if err != nil {
		respondFailure(w, err)
		return
	}
	deviceID := uuid.NewString()

	result, err := a.store.Controller.Provision(r.Context(), provision.ProvisionRequest{
		TokenID:      req.DeploymentAuth,
		DeviceID:     deviceID,
		AccessToken:  accessToken,
		OwnerAddress: op.Address,
	})
	if err != nil {
		provisionFailuresTotal.Inc()
		log.Error().Err(err).Str("token_id", req.DeploymentAuth).Msg("unit provisioning failed")
		respondKind(w, KindProvisioning, "fleet controller refused to provision the unit")
		return
	}

	now := time.Now().UTC()
	dep := Deployment{
		ID:             deviceID,
		OwnerID:        op.ID,
		DeploymentAuth: req.DeploymentAuth,
		AccessToken:    accessToken,
		IsUnit:         true,
		Name:           req.Name,
		Description:    req.Description,
		Services:       req.Services,
		Status:         StatusBooting,
		IPAddress:      result.IPAddress,
		// The forced configWant=1 makes the device's very first poll find
		// pending work, so first boot and reconfiguration share one path.
		ConfigGenerationWant: 1,
		ConfigGenerationHave: 0,
		UpdateGenerationWant: 0,
		UpdateGenerationHave: 0,
		UnitClaimTime:        &claimTime,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// Hardware is transferable: an older registration against the same claim
	// token must not block the new holder. The replacement is transactional.
	ctx, cancel = withTimeout(r.Context())
	err = a.store.Registry.ReplaceByDeploymentAuth(ctx, dep)
	cancel()
	if err != nil {
		respondFailure(w, err)
		return
	}

	a.publishJSON(enrolledTopic, map[string]any{
		"deployment_id": dep.ID,
		"owner_id":      dep.OwnerID,
		"is_unit":       true,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"deployment": dep})
}

func (a *API) handleRegisterDeployment(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	var req struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Services    string `json:"services"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondKind(w, KindValidation, err.Error())
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || len(req.ID) > 100 {
		respondKind(w, KindValidation, "id is required and must be at most 100 characters")
		return
	}

	accessToken, err := psk.NewAccessToken()
	if err != nil {
		respondFailure(w, err)
		return
	}

	now := time.Now().UTC()
	dep := Deployment{
		ID:          req.ID,
		OwnerID:     op.ID,
		AccessToken: accessToken,
		IsUnit:      false,
		Name:        req.Name,
		Description: req.Description,
		Services:    req.Services,
		Status:      StatusBooting,
		// Pre-registered devices get the same bootstrap trick as units.
		ConfigGenerationWant: 1,
		ConfigGenerationHave: 0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	ctx, cancel := withTimeout(r.Context())
	err = a.store.Registry.Create(ctx, dep)
	cancel()
	if errors.Is(err, ErrConflict) {
		respondKind(w, KindConflict, "a deployment with that id already exists")
		return
	}
	if err != nil {
		respondFailure(w, err)
		return
	}

	a.publishJSON(enrolledTopic, map[string]any{
		"deployment_id": dep.ID,
		"owner_id":      dep.OwnerID,
		"is_unit":       false,
	})

	respondJSON(w, http.StatusCreated, map[string]any{"deployment": dep})
}

func (a *API) handleRemoveDeployment(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondKind(w, KindValidation, err.Error())
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

	if err := a.store.Registry.Delete(ctx, req.ID); err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"removed": req.ID})
}

func (a *API) handleUpdateXnode(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	var req struct {
		ID          string  `json:"id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondKind(w, KindValidation, err.Error())
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

	// Only display fields are operator-mutable here. Everything else in the
	// record belongs to the protocol and must not be reachable from this
	// request shape.
	fields := map[string]any{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if len(fields) == 0 {
		respondKind(w, KindValidation, "nothing to update")
		return
	}

	if err := a.store.Registry.UpdateFields(ctx, req.ID, fields); err != nil {
		respondFailure(w, err)
		return
	}

	dep, err := a.store.Registry.GetForOwner(ctx, req.ID, op.ID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deployment": dep})
}

func (a *API) handleGetXnode(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		respondKind(w, KindValidation, "id query parameter is required")
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dep, err := a.store.Registry.GetForOwner(ctx, id, op.ID)
	if errors.Is(err, ErrNotFound) {
		respondKind(w, KindNotFound, "deployment not found")
		return
	}
	if err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deployment": dep})
}

func (a *API) handleGetXnodes(w http.ResponseWriter, r *http.Request) {
	op, ok := a.authenticateOperator(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	deps, err := a.store.Registry.ListByOwner(ctx, op.ID)
	if err != nil {
		respondFailure(w, err)
		return
	}

	// Units sometimes come back from the controller before their address is
	// recorded. Reconciliation is detached from the request: failures are
	// logged and the list response never waits on the controller.
	go a.reconcileAddresses(deps)

	respondJSON(w, http.StatusOK, map[string]any{"deployments": deps})
}

func (a *API) reconcileAddresses(deps []Deployment) {
	for _, dep := range deps {
		if !dep.IsUnit || dep.IPAddress != "" || dep.DeploymentAuth == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ip, err := a.store.Controller.DeviceAddress(ctx, dep.DeploymentAuth)
		if err != nil || ip == "" {
			cancel()
			log.Warn().Err(err).Str("deployment_id", dep.ID).Msg("address reconciliation failed")
			continue
		}

		if err := a.store.Registry.UpdateFields(ctx, dep.ID, map[string]any{"ip_address": ip}); err != nil {
			log.Warn().Err(err).Str("deployment_id", dep.ID).Msg("address reconciliation update failed")
		}
		cancel()
	}
}

// parseTokenID validates that deploymentAuth is a plain decimal token id.
func parseTokenID(deploymentAuth string) (*big.Int, error) {
	if deploymentAuth == "" {
		return nil, errors.New("empty token id")
	}
	for _, c := range deploymentAuth {
		if c < '0' || c > '9' {
			return nil, errors.New("token id must be decimal digits")
		}
	}
	n, ok := new(big.Int).SetString(deploymentAuth, 10)
	if !ok {
		return nil, errors.New("token id must be decimal digits")
	}
	return n, nil
}
