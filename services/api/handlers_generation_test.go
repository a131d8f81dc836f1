package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"xnoded/pkg/psk"
)

type generationView struct {
	ConfigGenerationWant int64 `json:"configGenerationWant"`
	ConfigGenerationHave int64 `json:"configGenerationHave"`
	UpdateGenerationWant int64 `json:"updateGenerationWant"`
	UpdateGenerationHave int64 `json:"updateGenerationHave"`
}

func (e *testEnv) getGeneration(t *testing.T, dep Deployment) generationView {
	t.Helper()

	body := []byte(fmt.Sprintf(`{"id":%q}`, dep.ID))
	var view generationView
	rec := e.devicePost(t, "/v1/xnodes/getXnodeGeneration", dep.AccessToken, body, &view)
	if rec.Code != http.StatusOK {
		t.Fatalf("getXnodeGeneration status = %d, body %s", rec.Code, rec.Body.String())
	}
	return view
}

func (e *testEnv) pushHave(t *testing.T, dep Deployment, axis string, generation int64) {
	t.Helper()

	path := "/v1/xnodes/pushXnodeGenerationConfig"
	if axis == "update" {
		path = "/v1/xnodes/pushXnodeGenerationUpdate"
	}
	body := []byte(fmt.Sprintf(`{"id":%q,"generation":%d}`, dep.ID, generation))
	rec := e.devicePost(t, path, dep.AccessToken, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("push %s have status = %d, body %s", axis, rec.Code, rec.Body.String())
	}
}

func TestGetGenerationReportsBootstrapPendingWork(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	view := env.getGeneration(t, dep)
	if view.ConfigGenerationWant != 1 || view.ConfigGenerationHave != 0 {
		t.Fatalf("fresh device config generations = (%d, %d), want (1, 0)",
			view.ConfigGenerationWant, view.ConfigGenerationHave)
	}
	if view.UpdateGenerationWant != 0 || view.UpdateGenerationHave != 0 {
		t.Fatalf("fresh device update generations = (%d, %d), want (0, 0)",
			view.UpdateGenerationWant, view.UpdateGenerationHave)
	}
}

func TestPushGenerationAdvancesHaveOnly(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	env.pushHave(t, dep, "config", 1)

	view := env.getGeneration(t, dep)
	if view.ConfigGenerationHave != 1 {
		t.Fatalf("configGenerationHave = %d, want 1", view.ConfigGenerationHave)
	}
	if view.ConfigGenerationWant != 1 {
		t.Fatalf("push changed want to %d", view.ConfigGenerationWant)
	}

	// Retransmission is a state no-op.
	env.pushHave(t, dep, "config", 1)
	again := env.getGeneration(t, dep)
	if again != view {
		t.Fatalf("repeated push changed state: %+v -> %+v", view, again)
	}
}

func TestGenerationAxesAreIndependent(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	rec := env.operatorPost(t, "/v1/xnodes/allowXnodeGenerationUpdate", map[string]any{
		"id":         dep.ID,
		"generation": 3,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("allow update status = %d, body %s", rec.Code, rec.Body.String())
	}

	view := env.getGeneration(t, dep)
	if view.UpdateGenerationWant != 3 || view.UpdateGenerationHave != 0 {
		t.Fatalf("update generations = (%d, %d), want (3, 0)",
			view.UpdateGenerationWant, view.UpdateGenerationHave)
	}
	if view.ConfigGenerationWant != 1 {
		t.Fatalf("allow on the update axis moved configGenerationWant to %d", view.ConfigGenerationWant)
	}

	stored, err := env.registry.Get(context.Background(), dep.ID)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if stored.Status != StatusPendingUpdate {
		t.Fatalf("status = %q, want %q", stored.Status, StatusPendingUpdate)
	}

	env.pushHave(t, dep, "update", 3)
	view = env.getGeneration(t, dep)
	if view.UpdateGenerationHave != 3 {
		t.Fatalf("updateGenerationHave = %d, want 3", view.UpdateGenerationHave)
	}
}

func TestAllowGenerationConfigMarksPending(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	rec := env.operatorPost(t, "/v1/xnodes/allowXnodeGenerationConfig", map[string]any{
		"id":         dep.ID,
		"generation": 5,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	stored, err := env.registry.Get(context.Background(), dep.ID)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if stored.ConfigGenerationWant != 5 {
		t.Fatalf("configGenerationWant = %d, want 5", stored.ConfigGenerationWant)
	}
	if stored.Status != StatusPendingReconfiguration {
		t.Fatalf("status = %q, want %q", stored.Status, StatusPendingReconfiguration)
	}

	rec = env.operatorPost(t, "/v1/xnodes/allowXnodeGenerationConfig", map[string]any{
		"id":         "no-such-device",
		"generation": 5,
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestDeviceAuthRejections(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	t.Run("unknown device id", func(t *testing.T) {
		body := []byte(`{"id":"ghost"}`)
		rec := env.devicePost(t, "/v1/xnodes/getXnodeGeneration", dep.AccessToken, body, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := psk.NewAccessToken()
		if err != nil {
			t.Fatalf("NewAccessToken: %v", err)
		}
		body := []byte(fmt.Sprintf(`{"id":%q,"generation":9}`, dep.ID))
		rec := env.devicePost(t, "/v1/xnodes/pushXnodeGenerationConfig", other, body, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if kind := errorKind(t, rec); kind != string(KindAuthentication) {
			t.Fatalf("error kind = %q, want %q", kind, KindAuthentication)
		}

		stored, err := env.registry.Get(context.Background(), dep.ID)
		if err != nil {
			t.Fatalf("registry lookup: %v", err)
		}
		if stored.ConfigGenerationHave != 0 {
			t.Fatalf("rejected push still mutated have to %d", stored.ConfigGenerationHave)
		}
	})

	t.Run("body tampered after signing", func(t *testing.T) {
		signed := []byte(fmt.Sprintf(`{"id":%q,"generation":1}`, dep.ID))
		mac, err := psk.ComputeMAC(dep.AccessToken, string(signed))
		if err != nil {
			t.Fatalf("ComputeMAC: %v", err)
		}
		tampered := []byte(fmt.Sprintf(`{"id":%q,"generation":7}`, dep.ID))

		req := httptest.NewRequest(http.MethodPost, "/v1/xnodes/pushXnodeGenerationConfig", bytes.NewReader(tampered))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(sessionHeader, mac)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

// TestConvergenceScenario walks one device through its whole lifecycle:
// provision, first poll, first converge, heartbeat promotion, a service
// change, and the second converge.
func TestConvergenceScenario(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	// First poll finds the bootstrap pending work.
	view := env.getGeneration(t, dep)
	if view.ConfigGenerationWant != view.ConfigGenerationHave+1 {
		t.Fatalf("fresh device is not pending: %+v", view)
	}

	// Device fetches its config, applies it, reports have=1.
	var envelope struct {
		Message string `json:"message"`
		HMAC    string `json:"hmac"`
	}
	body := []byte(fmt.Sprintf(`{"id":%q}`, dep.ID))
	rec := env.devicePost(t, "/v1/xnodes/getXnodeServices", dep.AccessToken, body, &envelope)
	if rec.Code != http.StatusOK {
		t.Fatalf("getXnodeServices status = %d", rec.Code)
	}
	if !psk.VerifyMAC(dep.AccessToken, envelope.Message, envelope.HMAC) {
		t.Fatal("services envelope MAC does not verify")
	}
	env.pushHave(t, dep, "config", 1)

	// First heartbeat promotes booting to booted, exactly once.
	hb := []byte(fmt.Sprintf(`{"id":%q,"cpuPercent":12.5,"ramMbUsed":2048}`, dep.ID))
	for i := 0; i < 3; i++ {
		rec := env.devicePost(t, "/v1/xnodes/pushXnodeHeartbeat", dep.AccessToken, hb, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("heartbeat %d status = %d", i, rec.Code)
		}
	}
	stored, err := env.registry.Get(context.Background(), dep.ID)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if stored.Status != StatusBooted {
		t.Fatalf("status after heartbeats = %q, want %q", stored.Status, StatusBooted)
	}
	if stored.HeartbeatData != string(hb) {
		t.Fatalf("heartbeatData = %q, want the exact reported bytes", stored.HeartbeatData)
	}

	// Operator pushes a new service set, then allows the new generation.
	var pushResp struct {
		ConfigGenerationWant int64 `json:"configGenerationWant"`
	}
	rec = env.operatorPost(t, "/v1/xnodes/pushXnodeServices", map[string]any{
		"id":       dep.ID,
		"services": `{"services":[{"name":"nginx"}]}`,
	}, &pushResp)
	if rec.Code != http.StatusOK {
		t.Fatalf("pushXnodeServices status = %d", rec.Code)
	}
	if pushResp.ConfigGenerationWant != 2 {
		t.Fatalf("configGenerationWant after services push = %d, want 2", pushResp.ConfigGenerationWant)
	}

	rec = env.operatorPost(t, "/v1/xnodes/allowXnodeGenerationConfig", map[string]any{
		"id":         dep.ID,
		"generation": 2,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("allow status = %d", rec.Code)
	}

	// Device polls, sees pending work again, converges.
	view = env.getGeneration(t, dep)
	if view.ConfigGenerationWant != 2 || view.ConfigGenerationHave != 1 {
		t.Fatalf("pre-converge generations = %+v, want want=2 have=1", view)
	}
	env.pushHave(t, dep, "config", 2)

	view = env.getGeneration(t, dep)
	if view.ConfigGenerationWant != view.ConfigGenerationHave {
		t.Fatalf("device did not converge: %+v", view)
	}

	// Device reports itself healthy again after reconfiguring.
	statusBody := []byte(fmt.Sprintf(`{"id":%q,"status":"booted"}`, dep.ID))
	rec = env.devicePost(t, "/v1/xnodes/pushXnodeStatus", dep.AccessToken, statusBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pushXnodeStatus status = %d", rec.Code)
	}
	stored, err = env.registry.Get(context.Background(), dep.ID)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if stored.Status != StatusBooted {
		t.Fatalf("final status = %q, want %q", stored.Status, StatusBooted)
	}
}

func TestHeartbeatDoesNotRevertStatus(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	statusBody := []byte(fmt.Sprintf(`{"id":%q,"status":"degraded"}`, dep.ID))
	if rec := env.devicePost(t, "/v1/xnodes/pushXnodeStatus", dep.AccessToken, statusBody, nil); rec.Code != http.StatusOK {
		t.Fatalf("pushXnodeStatus status = %d", rec.Code)
	}

	hb := []byte(fmt.Sprintf(`{"id":%q,"cpuPercent":1}`, dep.ID))
	if rec := env.devicePost(t, "/v1/xnodes/pushXnodeHeartbeat", dep.AccessToken, hb, nil); rec.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d", rec.Code)
	}

	stored, err := env.registry.Get(context.Background(), dep.ID)
	if err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	// Promotion only applies to "booting"; any other status is untouched.
	if stored.Status != "degraded" {
		t.Fatalf("status = %q, want %q", stored.Status, "degraded")
	}
}

func TestGetServicesEnvelopeIsByteStable(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	// Key order and whitespace must survive storage untouched or the
	// device-side MAC check would fail.
	services := `{"zeta": 1, "alpha": {"b": 2, "a": 3}}`
	rec := env.operatorPost(t, "/v1/xnodes/pushXnodeServices", map[string]any{
		"id":       dep.ID,
		"services": services,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pushXnodeServices status = %d", rec.Code)
	}

	var envelope struct {
		Message string `json:"message"`
		HMAC    string `json:"hmac"`
	}
	body := []byte(fmt.Sprintf(`{"id":%q}`, dep.ID))
	rec = env.devicePost(t, "/v1/xnodes/getXnodeServices", dep.AccessToken, body, &envelope)
	if rec.Code != http.StatusOK {
		t.Fatalf("getXnodeServices status = %d", rec.Code)
	}
	if envelope.Message != services {
		t.Fatalf("message = %q, want the stored bytes %q", envelope.Message, services)
	}
	if !psk.VerifyMAC(dep.AccessToken, envelope.Message, envelope.HMAC) {
		t.Fatal("envelope MAC does not verify with the device token")
	}
}

func TestPushGenerationValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	tests := []struct {
		name string
		body string
	}{
		{"missing generation", fmt.Sprintf(`{"id":%q}`, dep.ID)},
		{"negative generation", fmt.Sprintf(`{"id":%q,"generation":-1}`, dep.ID)},
		{"non-numeric generation", fmt.Sprintf(`{"id":%q,"generation":"two"}`, dep.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.devicePost(t, "/v1/xnodes/pushXnodeGenerationConfig", dep.AccessToken, []byte(tt.body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHeartbeatRejectsNonJSON(t *testing.T) {
	env := newTestEnv(t, Config{})
	dep := env.createUnit(t, testTokenID)

	body := []byte(fmt.Sprintf(`{"id":%q} trailing garbage`, dep.ID))
	rec := env.devicePost(t, "/v1/xnodes/pushXnodeHeartbeat", dep.AccessToken, body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
