// Package audit consumes the deployment event feed and persists an audit
// trail of fleet activity.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"xnoded/pkg/bus"
	"xnoded/pkg/db"
)

const (
	deploymentsSubject = "xnoded.deployments.*"
	durableName        = "audit-trail"
	auditActor         = "control-plane"
)

type deploymentEvent struct {
	DeploymentID string `json:"deployment_id"`
}

// Trail subscribes to deployment lifecycle events and records each one as an
// audit row. Ordering inside the table follows delivery order, which is good
// enough for an append-only activity log.
type Trail struct {
	pool *pgxpool.Pool
	bus  *bus.Bus

	subMu sync.Mutex
	sub   io.Closer
}

// NewTrail constructs a Trail for the provided dependencies.
func NewTrail(pool *pgxpool.Pool, bus *bus.Bus) (*Trail, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}

	return &Trail{pool: pool, bus: bus}, nil
}

// Start subscribes to deployment events and records them until ctx is cancelled.
func (t *Trail) Start(ctx context.Context) error {
	if t == nil {
		return errors.New("nil trail")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	handler := func(msgCtx context.Context, subject string, data []byte) error {
		return t.record(msgCtx, subject, data)
	}

	sub, err := t.bus.SubscribeSubject(ctx, deploymentsSubject, durableName, handler)
	if err != nil {
		return err
	}

	t.subMu.Lock()
	t.sub = sub
	t.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}

	t.subMu.Lock()
	defer t.subMu.Unlock()

	if t.sub == nil {
		return nil
	}
	err := t.sub.Close()
	t.sub = nil
	return err
}

func (t *Trail) record(ctx context.Context, subject string, data []byte) error {
	var evt deploymentEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.DeploymentID == "" {
		return errors.New("deployment_id missing from event")
	}

	var details map[string]any
	if err := json.Unmarshal(data, &details); err != nil {
		return err
	}
	detailsBytes, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, t.pool, `
INSERT INTO audit (actor, action, obj, details)
VALUES ($1, $2, $3, $4::jsonb)
`, auditActor, actionFromSubject(subject), evt.DeploymentID, detailsBytes)
	return err
}

// actionFromSubject maps an event subject to an audit action, e.g.
// "xnoded.deployments.enrolled" becomes "deployment_enrolled".
func actionFromSubject(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return "deployment_event"
	}
	return "deployment_" + subject[idx+1:]
}
