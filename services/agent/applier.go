package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	defaultStateDir  = "/var/lib/xnoded"
	servicesFileName = "services.json"
	updateMarkerName = "update_generation"
)

// FileApplier materialises pending work on disk: the service configuration
// is written where the local supervisor picks it up, and applied update
// generations are recorded in a marker file.
type FileApplier struct {
	stateDir string
}

// NewFileApplier returns an applier rooted at stateDir, or the default
// location when empty.
func NewFileApplier(stateDir string) *FileApplier {
	if stateDir == "" {
		stateDir = defaultStateDir
	}
	return &FileApplier{stateDir: stateDir}
}

func (f *FileApplier) ApplyConfig(_ context.Context, services string) error {
	if err := os.MkdirAll(f.stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	path := filepath.Join(f.stateDir, servicesFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(services), 0o600); err != nil {
		return fmt.Errorf("write services: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install services: %w", err)
	}
	return nil
}

func (f *FileApplier) ApplyUpdate(_ context.Context, generation int64) error {
	if err := os.MkdirAll(f.stateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	marker := filepath.Join(f.stateDir, updateMarkerName)
	contents := strconv.FormatInt(generation, 10) + " " + time.Now().Format(time.RFC3339)
	if err := os.WriteFile(marker, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("write update marker: %w", err)
	}
	return nil
}
