package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gliderdac/internal/archive"
	"gliderdac/internal/compliance"
	"gliderdac/internal/config"
	"gliderdac/internal/dac"
	"gliderdac/internal/database"
	"gliderdac/internal/jobs"
	"gliderdac/internal/monitor"
	"gliderdac/internal/notify"
)

// App is the application layer between the CLI and the deployment service.
// It constructs all dependencies from config, exposes the operations the
// commands run, and releases the database and log file on Close.
type App struct {
	cfg        *config.Config
	store      *database.SQLiteStore
	queue      *jobs.Queue
	archive    dac.Archive
	notifier   dac.Notifier
	service    *dac.Service
	compliance *compliance.Handler
	logger     dac.Logger
	runID      string
	logFile    *os.File
}

// DeploymentInput carries the user-supplied fields of a new deployment.
type DeploymentInput struct {
	Name                    string
	Username                string
	Operator                string
	GliderName              string
	WMOID                   string
	Attribution             string
	EstimatedDeployLocation string
	DelayedMode             bool
	DeploymentDate          *time.Time
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "CreateDeployment", "Worker").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	runID := newRunID(time.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, runID, parseLevel(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.runID = runID
	a.logFile = logFile

	logger.Debug("app started", "operation", operation)
	return a, nil
}

// newApp wires everything except the log file.
func newApp(ctx context.Context, cfg *config.Config, logger dac.Logger) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	clock := dac.RealClock{}
	queue, err := jobs.NewQueueFromConfig(cfg.Jobs, store.DB(), clock)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating job queue: %w", err)
	}

	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	notifier := newNotifier(cfg.Mail, logger)

	svc := dac.NewService(dac.ServiceConfig{
		Sync: dac.SyncConfig{
			DataRoot:          cfg.DataRoot,
			NoData:            cfg.NoData,
			ComplianceDelay:   cfg.Compliance.Delay.Duration,
			ComplianceTimeout: cfg.Compliance.Timeout.Duration,
		},
		PublicDataRoot:  cfg.PublicDataRoot,
		ThreddsDataRoot: cfg.ThreddsDataRoot,
		URLs: dac.URLConfig{
			Thredds:      cfg.URLs.Thredds,
			PublicErddap: cfg.URLs.PublicErddap,
		},
	}, store, queue, logger, clock, dac.UUIDGenerator{})

	recipients := cfg.Compliance.Recipients
	if len(recipients) == 0 {
		recipients = cfg.Mail.To
	}
	handler := compliance.NewHandler(compliance.Config{
		DataRoot:   cfg.DataRoot,
		Recipients: recipients,
	}, store, nil, notifier, arch, logger)

	return &App{
		cfg:        cfg,
		store:      store,
		queue:      queue,
		archive:    arch,
		notifier:   notifier,
		service:    svc,
		compliance: handler,
		logger:     logger,
	}, nil
}

// newNotifier selects SMTP delivery when a mail host is configured and
// logs messages otherwise.
func newNotifier(cfg config.MailConfig, logger dac.Logger) dac.Notifier {
	if cfg.Host == "" {
		return notify.NewLogSender(logger)
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
}

// RunID identifies this process in the log file.
func (a *App) RunID() string {
	return a.runID
}

// URLs returns the public URL builder for deployments.
func (a *App) URLs() dac.URLConfig {
	return a.service.URLs()
}

// CreateDeployment saves a new deployment, creating its directory under the
// data root.
func (a *App) CreateDeployment(ctx context.Context, in DeploymentInput) (*dac.Deployment, error) {
	d := dac.NewDeployment(in.Name, in.Username, "")
	d.Operator = in.Operator
	d.GliderName = in.GliderName
	d.WMOID = in.WMOID
	d.Attribution = in.Attribution
	d.EstimatedDeployLocation = in.EstimatedDeployLocation
	d.DelayedMode = in.DelayedMode
	d.DeploymentDate = in.DeploymentDate

	if existing, err := a.store.FindByName(ctx, d.Name); err != nil {
		return nil, fmt.Errorf("checking deployment %s: %w", d.Name, err)
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", dac.ErrDeploymentExists, d.Name)
	}

	if err := a.service.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SyncDeployment re-runs the sync pipeline for the named deployment.
func (a *App) SyncDeployment(ctx context.Context, name string) (*dac.Deployment, error) {
	return a.service.Resave(ctx, name)
}

// CompleteDeployment marks the named deployment completed, which schedules
// its compliance check.
func (a *App) CompleteDeployment(ctx context.Context, name string) (*dac.Deployment, error) {
	return a.service.SetCompleted(ctx, name, true)
}

// ReopenDeployment clears the completed flag of the named deployment.
func (a *App) ReopenDeployment(ctx context.Context, name string) (*dac.Deployment, error) {
	return a.service.SetCompleted(ctx, name, false)
}

// DeleteDeployment removes the named deployment and its directories.
func (a *App) DeleteDeployment(ctx context.Context, name string) error {
	return a.service.Delete(ctx, name)
}

// GetDeployment returns the named deployment.
func (a *App) GetDeployment(ctx context.Context, name string) (*dac.Deployment, error) {
	return a.service.Get(ctx, name)
}

// ListDeployments returns all deployments ordered by name.
func (a *App) ListDeployments(ctx context.Context) ([]*dac.Deployment, error) {
	return a.service.List(ctx)
}

// CountByOperator returns the number of deployments per operator.
func (a *App) CountByOperator(ctx context.Context) ([]dac.OperatorCount, error) {
	return a.service.CountByOperator(ctx)
}

// GetJob returns the job stored under id.
func (a *App) GetJob(ctx context.Context, id string) (*dac.Job, error) {
	return a.queue.Fetch(ctx, id)
}

// NewWorker returns a worker over the configured queue with the compliance
// check registered.
func (a *App) NewWorker() *jobs.Worker {
	w := jobs.NewWorker(a.queue, jobs.WorkerConfig{
		PollInterval: a.cfg.Jobs.PollInterval.Duration,
		ResultTTL:    a.cfg.Jobs.ResultTTL.Duration,
		StaleGrace:   a.cfg.Jobs.StaleGrace.Duration,
	}, a.logger)
	w.Register(dac.ComplianceCheckFunc, a.compliance.Run)
	return w
}

// RunWorker executes due jobs until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	return a.NewWorker().Run(ctx)
}

// NewWatcher returns a mission watcher over baseDir. An empty baseDir or a
// zero timeout selects the configured values.
func (a *App) NewWatcher(baseDir string, timeout time.Duration) (*monitor.MissionWatcher, error) {
	if baseDir == "" {
		baseDir = a.cfg.Watcher.BaseDir
	}
	if timeout <= 0 {
		timeout = a.cfg.Watcher.Timeout.Duration
	}
	return monitor.New(monitor.Config{
		BaseDir:    baseDir,
		Timeout:    timeout,
		Recipients: a.cfg.Mail.To,
		CC:         a.cfg.Mail.CC,
	}, a.notifier, a.logger)
}

// Watch runs the mission watcher until ctx is cancelled.
func (a *App) Watch(ctx context.Context, baseDir string, timeout time.Duration) error {
	w, err := a.NewWatcher(baseDir, timeout)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	return w.Run(ctx)
}

// Close closes the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
