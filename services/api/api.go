// Package api is the Xnode control plane: device registry, provisioning
// workflow, generation convergence protocol, and telemetry ingestion.
package api

import (
	"errors"
	"strings"

	"xnoded/services/ledger"
	"xnoded/services/provision"

	"xnoded/pkg/bus"
)

const defaultMaxDeployments = 100

// Store holds the external dependencies the API handlers work against. Every
// collaborator is passed in explicitly; nothing reaches for globals.
type Store struct {
	Registry   Registry
	Sessions   Sessions
	Ledger     ledger.Ledger
	Controller provision.Controller
	Bus        *bus.Bus
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// MaxDeployments is the per-operator fleet-size ceiling. Zero means the
	// default of 100.
	MaxDeployments int

	// Allowlist restricts unit provisioning to the listed chain addresses.
	// Empty disables the gate.
	Allowlist []string

	// AllowedOrigins enables CORS for browser-based operator frontends.
	// Empty leaves CORS off.
	AllowedOrigins []string
}

// API wires dependencies and configuration for the HTTP handlers.
type API struct {
	store  *Store
	config Config
	allow  map[string]struct{}
}

// New validates the dependency set and initialises the API layer.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.Registry == nil {
		return nil, errors.New("store Registry is required")
	}
	if store.Sessions == nil {
		return nil, errors.New("store Sessions is required")
	}
	if store.Ledger == nil {
		return nil, errors.New("store Ledger is required")
	}
	if store.Controller == nil {
		return nil, errors.New("store Controller is required")
	}

	if cfg.MaxDeployments <= 0 {
		cfg.MaxDeployments = defaultMaxDeployments
	}

	allow := make(map[string]struct{}, len(cfg.Allowlist))
	for _, addr := range cfg.Allowlist {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr != "" {
			allow[addr] = struct{}{}
		}
	}

	return &API{
		store:  store,
		config: cfg,
		allow:  allow,
	}, nil
}

// allowed reports whether the address may provision units. An empty
// allow-list admits everyone.
func (a *API) allowed(address string) bool {
	if len(a.allow) == 0 {
		return true
	}
	_, ok := a.allow[strings.ToLower(address)]
	return ok
}
