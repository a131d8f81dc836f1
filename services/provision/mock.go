package provision

import (
	"context"
	"sync"
)

// MockController satisfies Controller without touching any hardware. It backs
// mock deployments in development environments and the test suite.
type MockController struct {
	mu        sync.Mutex
	requests  []ProvisionRequest
	IPAddress string
	Err       error
	AddrErr   error
}

// NewMockController returns a controller that succeeds with the given address.
func NewMockController(ipAddress string) *MockController {
	return &MockController{IPAddress: ipAddress}
}

func (m *MockController) Provision(_ context.Context, req ProvisionRequest) (ProvisionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return ProvisionResult{}, m.Err
	}
	return ProvisionResult{IPAddress: m.IPAddress}, nil
}

func (m *MockController) DeviceAddress(context.Context, string) (string, error) {
	if m.AddrErr != nil {
		return "", m.AddrErr
	}
	return m.IPAddress, nil
}

// Requests returns a copy of every provisioning request seen so far.
func (m *MockController) Requests() []ProvisionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProvisionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
