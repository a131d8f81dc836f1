package main

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the control-plane server.
type Config struct {
	Addr  string `env:"ADDR,default=:8080"`
	DBDSN string `env:"DB_DSN,required"`

	// OperatorFile is the YAML file mapping session tokens to operator
	// accounts, with the optional provisioning allow-list.
	OperatorFile string `env:"OPERATOR_FILE,required"`

	// NATSURL enables the deployment event feed when set.
	NATSURL string `env:"NATS_URL"`

	// EVMRPCURL and ClaimContract locate the claim-token ledger.
	EVMRPCURL     string        `env:"EVM_RPC_URL,required"`
	ClaimContract string        `env:"CLAIM_CONTRACT,required"`
	LedgerTimeout time.Duration `env:"LEDGER_TIMEOUT,default=10s"`

	// ControllerURL and ControllerKey locate the external fleet controller.
	// Leaving ControllerURL empty runs with a mock controller, for local
	// development against no hardware.
	ControllerURL     string        `env:"CONTROLLER_URL"`
	ControllerKey     string        `env:"CONTROLLER_API_KEY"`
	ControllerTimeout time.Duration `env:"CONTROLLER_TIMEOUT,default=30s"`
	MockControllerIP  string        `env:"MOCK_CONTROLLER_IP,default=127.0.0.1"`

	MaxDeployments int      `env:"MAX_DEPLOYMENTS,default=100"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
