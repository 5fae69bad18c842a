package dac

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gliderdac/internal/fs"
)

// SyncConfig configures a Syncer.
type SyncConfig struct {
	// DataRoot is the directory deployment directories are relative to.
	DataRoot string

	// DataExt is the extension of the primary data files (default ".nc").
	DataExt string

	// NoData disables all filesystem side effects of a sync.
	NoData bool

	// ComplianceDelay and ComplianceTimeout configure the deferred
	// compliance check. Zero selects the defaults.
	ComplianceDelay   time.Duration
	ComplianceTimeout time.Duration
}

// Syncer brings a deployment directory in line with its record: directory
// tree, WMO id sidecar, completion artifacts, checksum and metadata sidecar.
//
// Syncs of the same deployment must be serialized by the caller; no lock is
// taken on the directory.
type Syncer struct {
	cfg        SyncConfig
	completion *CompletionMachine
	logger     Logger
}

// NewSyncer creates a Syncer that schedules compliance checks on queue.
func NewSyncer(cfg SyncConfig, queue JobQueue, logger Logger) *Syncer {
	if cfg.DataExt == "" {
		cfg.DataExt = DefaultDataExt
	}
	gateway := NewJobGateway(queue, logger)
	return &Syncer{
		cfg:        cfg,
		completion: NewCompletionMachine(gateway, cfg.ComplianceDelay, cfg.ComplianceTimeout, logger),
		logger:     logger,
	}
}

// FullPath returns the absolute deployment directory of d.
func (s *Syncer) FullPath(d *Deployment) string {
	return filepath.Join(s.cfg.DataRoot, d.DeploymentDir)
}

// DataExt returns the configured primary data file extension.
func (s *Syncer) DataExt() string {
	return s.cfg.DataExt
}

// Sync runs the sync pipeline for d. The first failing step aborts the
// remaining steps; earlier steps are not rolled back. On success d.Checksum
// is current and deployment.json reflects d.
func (s *Syncer) Sync(ctx context.Context, d *Deployment) error {
	if s.cfg.NoData {
		return nil
	}

	dir := s.FullPath(d)
	if err := os.MkdirAll(dir, 0755); err != nil && !errors.Is(err, iofs.ErrExist) {
		return fmt.Errorf("creating deployment directory: %w", err)
	}

	if err := s.updateWMOIDFile(d, dir); err != nil {
		return err
	}

	if err := s.completion.Apply(ctx, d, dir); err != nil {
		return err
	}

	checksum, err := Checksum(dir, s.cfg.DataExt)
	if err != nil {
		return fmt.Errorf("calculating checksum: %w", err)
	}
	d.Checksum = checksum

	if err := writeMetadata(d, dir); err != nil {
		return err
	}

	s.logger.Debug("deployment synced", "deployment", d.Name, "checksum", checksum)
	return nil
}

// updateWMOIDFile rewrites wmoid.txt only when the record holds a WMO id that
// differs from the first line of the file.
func (s *Syncer) updateWMOIDFile(d *Deployment, dir string) error {
	if d.WMOID == "" {
		return nil
	}

	path := filepath.Join(dir, WMOIDFile)
	current, err := readFirstLine(path)
	if err != nil {
		return fmt.Errorf("reading WMO id file: %w", err)
	}
	if current == d.WMOID {
		return nil
	}

	if err := os.WriteFile(path, []byte(d.WMOID), 0644); err != nil {
		return fmt.Errorf("writing WMO id file: %w", err)
	}
	s.logger.Info("WMO id file updated", "deployment", d.Name, "wmo_id", d.WMOID)
	return nil
}

// readFirstLine returns the trimmed first line of the file, or "" when the
// file does not exist.
func readFirstLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		return "", sc.Err()
	}
	return strings.TrimSpace(sc.Text()), nil
}

func writeMetadata(d *Deployment, dir string) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding deployment metadata: %w", err)
	}
	if err := fs.WriteFileAtomic(filepath.Join(dir, MetadataFile), bytes.NewReader(data), 0644); err != nil {
		return fmt.Errorf("writing deployment metadata: %w", err)
	}
	return nil
}
