package dac

import (
	"context"
	"fmt"
	"path/filepath"

	"gliderdac/internal/fs"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Sync SyncConfig

	// PublicDataRoot and ThreddsDataRoot hold the published copies of each
	// deployment directory; they are removed together with the deployment.
	PublicDataRoot  string
	ThreddsDataRoot string

	URLs URLConfig
}

// Service is the orchestration layer for deployment records: every save runs
// the sync pipeline before the record is persisted.
type Service struct {
	cfg    ServiceConfig
	store  DeploymentStore
	syncer *Syncer
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewService creates a new Service with the provided dependencies.
func NewService(cfg ServiceConfig, store DeploymentStore, queue JobQueue, logger Logger, clock Clock, idgen IDGenerator) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		syncer: NewSyncer(cfg.Sync, queue, logger),
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// Syncer returns the sync pipeline used by Save.
func (s *Service) Syncer() *Syncer {
	return s.syncer
}

// URLs returns the public URL builder for deployments.
func (s *Service) URLs() URLConfig {
	return s.cfg.URLs
}

// Save refreshes the latest-file statistics of d, syncs its directory and
// persists the record. A deployment without an ID is inserted, anything else
// is updated. The record is not written when the sync fails.
func (s *Service) Save(ctx context.Context, d *Deployment) error {
	if d.Name == "" {
		return fmt.Errorf("deployment name is required")
	}
	if d.Username == "" {
		return fmt.Errorf("deployment %s has no username", d.Name)
	}
	if d.DeploymentDir == "" {
		d.DeploymentDir = filepath.Join(d.Username, d.Name)
	}

	name, mtime, ok, err := fs.LatestFile(s.syncer.FullPath(d), s.syncer.DataExt())
	if err != nil {
		return fmt.Errorf("finding latest data file: %w", err)
	}
	if ok {
		mt := mtime.UTC()
		d.LatestFile, d.LatestFileMtime = name, &mt
	} else {
		d.LatestFile, d.LatestFileMtime = "", nil
	}

	isNew := !d.Persisted()
	prevCreated, prevUpdated := d.Created, d.Updated
	// unstamp undoes the stamps of a new record that was not stored.
	unstamp := func() {
		if isNew {
			d.ID, d.Created, d.Updated = "", prevCreated, prevUpdated
		}
	}

	now := s.clock.Now().UTC()
	if isNew {
		d.ID = s.idgen.New()
		d.Created = now
	}
	d.Updated = now

	if err := s.syncer.Sync(ctx, d); err != nil {
		unstamp()
		return fmt.Errorf("syncing deployment %s: %w", d.Name, err)
	}

	if isNew {
		if err := s.store.Insert(ctx, d); err != nil {
			unstamp()
			return fmt.Errorf("inserting deployment %s: %w", d.Name, err)
		}
		s.logger.Info("deployment created", "deployment", d.Name, "dir", d.DeploymentDir)
		return nil
	}

	if err := s.store.Update(ctx, d); err != nil {
		return fmt.Errorf("updating deployment %s: %w", d.Name, err)
	}
	s.logger.Info("deployment updated", "deployment", d.Name, "completed", d.Completed)
	return nil
}

// Resave loads the named deployment and saves it again, re-running the sync
// pipeline against the current directory contents.
func (s *Service) Resave(ctx context.Context, name string) (*Deployment, error) {
	d, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SetCompleted changes the completed flag of the named deployment and saves it.
func (s *Service) SetCompleted(ctx context.Context, name string, completed bool) (*Deployment, error) {
	d, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	d.Completed = completed
	if err := s.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes the deployment's directory trees under the data, public
// ERDDAP and THREDDS roots, then the record itself.
func (s *Service) Delete(ctx context.Context, name string) error {
	d, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	for _, root := range []string{s.cfg.Sync.DataRoot, s.cfg.PublicDataRoot, s.cfg.ThreddsDataRoot} {
		if root == "" {
			continue
		}
		if err := fs.RemoveTree(filepath.Join(root, d.DeploymentDir)); err != nil {
			return fmt.Errorf("deleting deployment %s: %w", d.Name, err)
		}
	}

	if err := s.store.Delete(ctx, d.ID); err != nil {
		return fmt.Errorf("deleting deployment record %s: %w", d.Name, err)
	}

	s.logger.Info("deployment deleted", "deployment", d.Name)
	return nil
}

// Get returns the named deployment or ErrDeploymentNotFound.
func (s *Service) Get(ctx context.Context, name string) (*Deployment, error) {
	d, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("finding deployment %s: %w", name, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, name)
	}
	return d, nil
}

// List returns all deployments ordered by name.
func (s *Service) List(ctx context.Context) ([]*Deployment, error) {
	return s.store.List(ctx)
}

// CountByOperator returns the number of deployments per operator.
func (s *Service) CountByOperator(ctx context.Context) ([]OperatorCount, error) {
	return s.store.CountByOperator(ctx)
}
