package api

import "time"

// Lifecycle status values the control plane itself sets. Devices may report
// further free-form values through pushXnodeStatus; the set is open.
const (
	StatusBooting                = "booting"
	StatusBooted                 = "booted"
	StatusPendingReconfiguration = "pending reconfiguration"
	StatusPendingUpdate          = "pending update"
)

// Deployment is one registered Xnode: its identity, its pre-shared access
// token, the declared services blob, and the want/have generation counters
// the convergence protocol drives.
type Deployment struct {
	ID             string `json:"id"`
	OwnerID        string `json:"ownerId"`
	DeploymentAuth string `json:"deploymentAuth"`
	AccessToken    string `json:"accessToken"`
	IsUnit         bool   `json:"isUnit"`

	Name        string `json:"name"`
	Description string `json:"description"`

	// Services is the raw JSON blob describing what the device should run.
	// The control plane never interprets it; it is served back to the device
	// byte-for-byte inside an HMAC envelope.
	Services string `json:"services"`

	Status        string `json:"status"`
	HeartbeatData string `json:"heartbeatData"`
	IPAddress     string `json:"ipAddress"`

	ConfigGenerationWant int64 `json:"configGenerationWant"`
	ConfigGenerationHave int64 `json:"configGenerationHave"`
	UpdateGenerationWant int64 `json:"updateGenerationWant"`
	UpdateGenerationHave int64 `json:"updateGenerationHave"`

	UnitClaimTime *time.Time `json:"unitClaimTime,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
