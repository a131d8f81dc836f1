package api

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no deployment matches the lookup.
	ErrNotFound = errors.New("deployment not found")

	// ErrConflict is returned when a deployment id is already taken.
	ErrConflict = errors.New("deployment id already exists")
)

// Registry is the persistent record of the fleet. Field updates go through
// UpdateFields with an explicit column map; callers never hand a request body
// straight to storage.
type Registry interface {
	// Create inserts a new deployment. ErrConflict if the id exists.
	Create(ctx context.Context, d Deployment) error

	// Get looks a deployment up by id regardless of owner. Only device-
	// authenticated paths may use it; authorization there is the MAC check.
	Get(ctx context.Context, id string) (Deployment, error)

	// GetForOwner looks up a deployment visible to the given operator.
	// Another operator's deployment is ErrNotFound, not a permission error,
	// so existence is never leaked across tenants.
	GetForOwner(ctx context.Context, id, ownerID string) (Deployment, error)

	// ListByOwner returns the operator's whole fleet.
	ListByOwner(ctx context.Context, ownerID string) ([]Deployment, error)

	// CountByOwner returns the operator's deployment count for quota checks.
	CountByOwner(ctx context.Context, ownerID string) (int64, error)

	// UpdateFields applies the given column values to one row.
	UpdateFields(ctx context.Context, id string, fields map[string]any) error

	// Delete removes a deployment. ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// ReplaceByDeploymentAuth deletes every unit deployment claiming the
	// same deploymentAuth and inserts d, all in one transaction. The new
	// claim always wins; a failure leaves the previous state untouched.
	ReplaceByDeploymentAuth(ctx context.Context, d Deployment) error
}
