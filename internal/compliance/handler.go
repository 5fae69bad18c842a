package compliance

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"

	"gliderdac/internal/archive"
	"gliderdac/internal/dac"
)

// ArgDeploymentDir is the job argument naming the deployment directory.
const ArgDeploymentDir = "deployment_dir"

// Config configures a Handler.
type Config struct {
	DataRoot   string
	DataExt    string
	Recipients []string
}

// Handler runs the deferred compliance check of a completed deployment.
type Handler struct {
	cfg      Config
	store    dac.DeploymentStore
	checker  Checker
	notifier dac.Notifier
	archive  dac.Archive // nil disables archiving
	logger   dac.Logger
}

// NewHandler creates a Handler. A nil checker selects NetCDFChecker.
func NewHandler(cfg Config, store dac.DeploymentStore, checker Checker, notifier dac.Notifier, arch dac.Archive, logger dac.Logger) *Handler {
	if cfg.DataExt == "" {
		cfg.DataExt = dac.DefaultDataExt
	}
	if checker == nil {
		checker = NetCDFChecker{}
	}
	return &Handler{
		cfg:      cfg,
		store:    store,
		checker:  checker,
		notifier: notifier,
		archive:  arch,
		logger:   logger,
	}
}

// Run is the job entry point registered under dac.ComplianceCheckFunc.
// A failing check is reported, not returned: errors mean the check itself
// could not run.
func (h *Handler) Run(ctx context.Context, args map[string]string) error {
	dir := args[ArgDeploymentDir]
	if dir == "" {
		return fmt.Errorf("missing %s argument", ArgDeploymentDir)
	}

	d, err := h.store.FindByDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("finding deployment: %w", err)
	}
	if d == nil {
		return fmt.Errorf("%w: dir %s", dac.ErrDeploymentNotFound, dir)
	}

	report, err := h.Check(d)
	if err != nil {
		return err
	}
	h.logger.Info("compliance check done", "deployment", d.Name, "passed", report.Passed(), "files", len(report.Files))

	h.sendReport(ctx, report)

	if !report.Passed() {
		return nil
	}

	if err := h.store.SetComplianceCheckPassed(ctx, d.ID, true); err != nil {
		return fmt.Errorf("recording compliance result: %w", err)
	}

	if h.archive != nil && d.Completed && d.ArchiveSafe {
		if err := h.archiveDeployment(ctx, d, report); err != nil {
			return err
		}
	}
	return nil
}

// Check inspects the deployment directory and every data file in it.
func (h *Handler) Check(d *dac.Deployment) (*Report, error) {
	full := filepath.Join(h.cfg.DataRoot, d.DeploymentDir)
	report := &Report{Deployment: d.Name, Dir: d.DeploymentDir}

	files, err := dac.DataFiles(full, h.cfg.DataExt)
	if err != nil {
		return nil, fmt.Errorf("listing data files: %w", err)
	}
	for _, rel := range files {
		report.Files = append(report.Files, FileResult{
			Name: filepath.ToSlash(rel),
			Err:  h.checker.Check(filepath.Join(full, rel)),
		})
	}

	if len(files) == 0 {
		report.Problems = append(report.Problems, "no data files")
	}
	if _, err := os.Stat(filepath.Join(full, dac.MetadataFile)); err != nil {
		if !errors.Is(err, iofs.ErrNotExist) {
			return nil, fmt.Errorf("checking %s: %w", dac.MetadataFile, err)
		}
		report.Problems = append(report.Problems, "missing "+dac.MetadataFile)
	}
	if d.WMOID == "" {
		report.Problems = append(report.Problems, "no WMO ID assigned")
	}
	return report, nil
}

// sendReport mails the report. Delivery failures are logged only.
func (h *Handler) sendReport(ctx context.Context, report *Report) {
	if len(h.cfg.Recipients) == 0 {
		return
	}
	msg := dac.Message{
		Subject: report.Subject(),
		Body:    report.Body(),
		To:      h.cfg.Recipients,
	}
	if err := h.notifier.Send(ctx, msg); err != nil {
		h.logger.Error("failed to send compliance report", "deployment", report.Deployment, "error", err)
	}
}

// archiveDeployment uploads the data files and the metadata sidecar.
func (h *Handler) archiveDeployment(ctx context.Context, d *dac.Deployment, report *Report) error {
	full := filepath.Join(h.cfg.DataRoot, d.DeploymentDir)

	names := make([]string, 0, len(report.Files)+1)
	for _, f := range report.Files {
		names = append(names, f.Name)
	}
	names = append(names, dac.MetadataFile)

	for _, name := range names {
		if err := h.upload(ctx, filepath.Join(full, filepath.FromSlash(name)), archive.Key(d.DeploymentDir, name)); err != nil {
			return fmt.Errorf("archiving deployment %s: %w", d.Name, err)
		}
	}

	h.logger.Info("deployment archived", "deployment", d.Name, "objects", len(names))
	return nil
}

func (h *Handler) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return h.archive.Put(ctx, key, f, info.Size())
}
