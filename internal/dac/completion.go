package dac

import (
	"context"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gliderdac/internal/fs"
)

// Compliance check scheduling defaults.
const (
	ComplianceCheckFunc    = "glider_deployment_check"
	ComplianceCheckDelay   = 30 * time.Minute
	ComplianceCheckTimeout = 800 * time.Second
)

// CompletionMachine keeps a deployment directory's completion artifacts in
// line with the record's completed flag.
//
// A completed deployment carries an empty completed.txt marker and, until it
// passes its compliance check, a deferred check job. An incomplete deployment
// carries neither the marker nor any per-file hash sidecars.
type CompletionMachine struct {
	gateway *JobGateway
	delay   time.Duration
	timeout time.Duration
	logger  Logger
}

// NewCompletionMachine creates a CompletionMachine that schedules compliance
// checks through gateway. Zero delay or timeout select the defaults.
func NewCompletionMachine(gateway *JobGateway, delay, timeout time.Duration, logger Logger) *CompletionMachine {
	if delay <= 0 {
		delay = ComplianceCheckDelay
	}
	if timeout <= 0 {
		timeout = ComplianceCheckTimeout
	}
	return &CompletionMachine{
		gateway: gateway,
		delay:   delay,
		timeout: timeout,
		logger:  logger,
	}
}

// Apply brings dir into the state required by d.Completed.
func (m *CompletionMachine) Apply(ctx context.Context, d *Deployment, dir string) error {
	if d.Completed {
		return m.complete(ctx, d, dir)
	}
	return m.incomplete(dir)
}

func (m *CompletionMachine) complete(ctx context.Context, d *Deployment, dir string) error {
	marker := filepath.Join(dir, CompletedFile)
	if err := os.WriteFile(marker, nil, 0644); err != nil {
		return fmt.Errorf("writing completion marker: %w", err)
	}

	if d.ComplianceCheckPassed {
		return nil
	}

	_, err := m.gateway.EnsureScheduled(ctx, JobRequest{
		ID:      ComplianceJobID(d.Name),
		Func:    ComplianceCheckFunc,
		Args:    map[string]string{"deployment_dir": d.DeploymentDir},
		Delay:   m.delay,
		Timeout: m.timeout,
	})
	if err != nil {
		return fmt.Errorf("scheduling compliance check: %w", err)
	}
	return nil
}

// incomplete removes the marker and every stale hash sidecar. Hash sidecars
// are only ever deleted here, never generated.
func (m *CompletionMachine) incomplete(dir string) error {
	if err := fs.RemoveIfExists(filepath.Join(dir, CompletedFile)); err != nil {
		return fmt.Errorf("removing completion marker: %w", err)
	}

	removed := 0
	err := filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), HashSuffix) {
			return nil
		}
		if err := fs.RemoveIfExists(p); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing hash sidecars: %w", err)
	}

	if removed > 0 {
		m.logger.Debug("hash sidecars removed", "dir", dir, "count", removed)
	}
	return nil
}
