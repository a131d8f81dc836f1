package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSession is returned when a session token matches no operator.
var ErrInvalidSession = errors.New("invalid session token")

// Operator is an authenticated control-plane account.
type Operator struct {
	ID string
	// Address is the operator's registered chain address, compared against
	// the ledger-reported token holder during unit provisioning.
	Address string
}

// Sessions resolves operator session tokens. The full login flow lives in a
// separate service; the control plane only needs token-to-operator lookups
// at this boundary.
type Sessions interface {
	Verify(ctx context.Context, token string) (Operator, error)
}

// StaticSessions is a Sessions implementation backed by a fixed operator
// directory loaded at startup.
type StaticSessions struct {
	byToken map[string]Operator
}

// NewStaticSessions builds a directory from token-to-operator pairs.
func NewStaticSessions(operators map[string]Operator) *StaticSessions {
	byToken := make(map[string]Operator, len(operators))
	for token, op := range operators {
		byToken[token] = op
	}
	return &StaticSessions{byToken: byToken}
}

func (s *StaticSessions) Verify(_ context.Context, token string) (Operator, error) {
	op, ok := s.byToken[token]
	if !ok {
		return Operator{}, ErrInvalidSession
	}
	return op, nil
}

type operatorFile struct {
	Operators []struct {
		ID           string `yaml:"id"`
		SessionToken string `yaml:"session_token"`
		Address      string `yaml:"address"`
	} `yaml:"operators"`
	Allowlist []string `yaml:"allowlist"`
}

// LoadOperatorFile reads the YAML operator directory: session tokens, chain
// addresses, and the optional provisioning allow-list.
func LoadOperatorFile(path string) (*StaticSessions, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read operator file: %w", err)
	}

	var parsed operatorFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("parse operator file: %w", err)
	}

	byToken := make(map[string]Operator, len(parsed.Operators))
	for _, entry := range parsed.Operators {
		if entry.ID == "" || entry.SessionToken == "" {
			return nil, nil, fmt.Errorf("operator file: entry missing id or session_token")
		}
		if _, dup := byToken[entry.SessionToken]; dup {
			return nil, nil, fmt.Errorf("operator file: duplicate session token for %s", entry.ID)
		}
		byToken[entry.SessionToken] = Operator{
			ID:      entry.ID,
			Address: strings.ToLower(entry.Address),
		}
	}

	return &StaticSessions{byToken: byToken}, parsed.Allowlist, nil
}
