// Package agent is the device-side daemon: it polls the control plane's
// generation counters, applies pending config and update work, and reports
// heartbeats and lifecycle status.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

const (
	// ConfigPath is where the agent expects to find its JSON configuration file.
	ConfigPath = "/etc/xnoded/agent.conf"

	defaultPollInterval      = 15 * time.Second
	defaultHeartbeatInterval = 30 * time.Second

	statusReconfiguring = "reconfiguring"
	statusUpdating      = "updating"
	statusBooted        = "booted"
)

// Config represents the agent configuration stored on disk.
type Config struct {
	API         string `json:"api"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`

	// PollSeconds and HeartbeatSeconds override the default loop intervals.
	PollSeconds      int `json:"poll_seconds,omitempty"`
	HeartbeatSeconds int `json:"heartbeat_seconds,omitempty"`

	// StorageMount is the filesystem reported in storage gauges.
	StorageMount string `json:"storage_mount,omitempty"`
}

// Applier performs the actual work when a generation moves: applying a new
// service configuration, or running a software update.
type Applier interface {
	ApplyConfig(ctx context.Context, services string) error
	ApplyUpdate(ctx context.Context, generation int64) error
}

// Service is the long-running reconcile loop.
type Service struct {
	client    *Client
	applier   Applier
	collector *collector
	logger    *log.Logger

	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// NewService loads configuration from the provided path and returns an
// initialized Service.
func NewService(configPath string, applier Applier) (*Service, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newService(cfg, applier)
}

func newService(cfg Config, applier Applier) (*Service, error) {
	client, err := NewClient(cfg.API, cfg.DeviceID, cfg.AccessToken)
	if err != nil {
		return nil, err
	}
	if applier == nil {
		return nil, fmt.Errorf("applier is required")
	}

	poll := defaultPollInterval
	if cfg.PollSeconds > 0 {
		poll = time.Duration(cfg.PollSeconds) * time.Second
	}
	heartbeat := defaultHeartbeatInterval
	if cfg.HeartbeatSeconds > 0 {
		heartbeat = time.Duration(cfg.HeartbeatSeconds) * time.Second
	}

	return &Service{
		client:            client,
		applier:           applier,
		collector:         newCollector(cfg.StorageMount),
		logger:            log.New(os.Stdout, "xnode-agent: ", log.LstdFlags),
		pollInterval:      poll,
		heartbeatInterval: heartbeat,
	}, nil
}

// Run executes the reconcile and heartbeat loops until ctx is cancelled.
// Failures are logged and retried on the next tick; the poll loop itself is
// what makes the protocol resilient.
func (s *Service) Run(ctx context.Context) error {
	if err := s.heartbeatOnce(ctx); err != nil {
		s.logger.Printf("initial heartbeat failed: %v", err)
	}
	if err := s.reconcileOnce(ctx); err != nil {
		s.logger.Printf("initial reconcile failed: %v", err)
	}

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(s.heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			if err := s.reconcileOnce(ctx); err != nil {
				s.logger.Printf("reconcile failed: %v", err)
			}
		case <-heartbeatTicker.C:
			if err := s.heartbeatOnce(ctx); err != nil {
				s.logger.Printf("heartbeat failed: %v", err)
			}
		}
	}
}

// reconcileOnce runs one poll-compare-apply-push cycle for both axes.
func (s *Service) reconcileOnce(ctx context.Context) error {
	gen, err := s.client.Generation(ctx)
	if err != nil {
		return fmt.Errorf("poll generation: %w", err)
	}

	if gen.ConfigWant != gen.ConfigHave {
		if err := s.applyConfig(ctx, gen.ConfigWant); err != nil {
			return err
		}
	}

	if gen.UpdateWant != gen.UpdateHave {
		if err := s.applyUpdate(ctx, gen.UpdateWant); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) applyConfig(ctx context.Context, want int64) error {
	s.logger.Printf("config generation %d pending, applying", want)
	if err := s.client.PushStatus(ctx, statusReconfiguring); err != nil {
		s.logger.Printf("status report failed: %v", err)
	}

	services, err := s.client.Services(ctx)
	if err != nil {
		return fmt.Errorf("fetch services: %w", err)
	}
	if err := s.applier.ApplyConfig(ctx, services); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	if err := s.client.PushConfigHave(ctx, want); err != nil {
		return fmt.Errorf("push config generation: %w", err)
	}
	if err := s.client.PushStatus(ctx, statusBooted); err != nil {
		s.logger.Printf("status report failed: %v", err)
	}

	s.logger.Printf("config generation %d applied", want)
	return nil
}

func (s *Service) applyUpdate(ctx context.Context, want int64) error {
	s.logger.Printf("update generation %d pending, applying", want)
	if err := s.client.PushStatus(ctx, statusUpdating); err != nil {
		s.logger.Printf("status report failed: %v", err)
	}

	if err := s.applier.ApplyUpdate(ctx, want); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	if err := s.client.PushUpdateHave(ctx, want); err != nil {
		return fmt.Errorf("push update generation: %w", err)
	}
	if err := s.client.PushStatus(ctx, statusBooted); err != nil {
		s.logger.Printf("status report failed: %v", err)
	}

	s.logger.Printf("update generation %d applied", want)
	return nil
}

func (s *Service) heartbeatOnce(ctx context.Context) error {
	return s.client.Heartbeat(ctx, s.collector.sample())
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if strings.TrimSpace(cfg.API) == "" {
		return Config{}, fmt.Errorf("config missing api field")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return Config{}, fmt.Errorf("config missing device_id field")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return Config{}, fmt.Errorf("config missing access_token field")
	}

	return cfg, nil
}
