package api

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryRegistry is an in-memory Registry for handler tests. Column names in
// UpdateFields mirror the real storage schema so handlers exercise the same
// field mapping either way.
type memoryRegistry struct {
	mu   sync.Mutex
	rows map[string]Deployment
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{rows: make(map[string]Deployment)}
}

func (m *memoryRegistry) Create(_ context.Context, d Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[d.ID]; ok {
		return ErrConflict
	}
	m.rows[d.ID] = d
	return nil
}

func (m *memoryRegistry) Get(_ context.Context, id string) (Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return Deployment{}, ErrNotFound
	}
	return d, nil
}

func (m *memoryRegistry) GetForOwner(_ context.Context, id, ownerID string) (Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok || d.OwnerID != ownerID {
		return Deployment{}, ErrNotFound
	}
	return d, nil
}

func (m *memoryRegistry) ListByOwner(_ context.Context, ownerID string) ([]Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Deployment
	for _, d := range m.rows {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRegistry) CountByOwner(_ context.Context, ownerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, d := range m.rows {
		if d.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (m *memoryRegistry) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	for col, val := range fields {
		switch col {
		case "name":
			d.Name = val.(string)
		case "description":
			d.Description = val.(string)
		case "services":
			d.Services = val.(string)
		case "status":
			d.Status = val.(string)
		case "heartbeat_data":
			d.HeartbeatData = val.(string)
		case "ip_address":
			d.IPAddress = val.(string)
		case "config_generation_want":
			d.ConfigGenerationWant = asInt64(val)
		case "config_generation_have":
			d.ConfigGenerationHave = asInt64(val)
		case "update_generation_want":
			d.UpdateGenerationWant = asInt64(val)
		case "update_generation_have":
			d.UpdateGenerationHave = asInt64(val)
		}
	}
	d.UpdatedAt = time.Now().UTC()
	m.rows[id] = d
	return nil
}

func (m *memoryRegistry) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryRegistry) ReplaceByDeploymentAuth(_ context.Context, d Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.rows {
		if existing.IsUnit && existing.DeploymentAuth == d.DeploymentAuth {
			delete(m.rows, id)
		}
	}
	m.rows[d.ID] = d
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
