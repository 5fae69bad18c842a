package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"gliderdac/internal/dac"
	"gliderdac/internal/database/migrations"
)

// SQLiteStore implements dac.DeploymentStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ dac.DeploymentStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens a SQLite deployment store.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{
		db:   db,
		path: path,
	}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time, and every connection to ":memory:"
	// is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// DB returns the underlying connection, shared with the sqlite job queue.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

const deploymentColumns = `id, name, user_id, username, operator, deployment_dir,
	estimated_deploy_date, estimated_deploy_location, wmo_id, completed, created, updated,
	glider_name, deployment_date, archive_safe, checksum, attribution, delayed_mode,
	latest_file, latest_file_mtime, compliance_check_passed`

func (s *SQLiteStore) FindByName(ctx context.Context, name string) (*dac.Deployment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+deploymentColumns+" FROM deployments WHERE name = ?", name)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding deployment by name: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) FindByDir(ctx context.Context, deploymentDir string) (*dac.Deployment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+deploymentColumns+" FROM deployments WHERE deployment_dir = ? ORDER BY created LIMIT 1", deploymentDir)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding deployment by dir: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, d *dac.Deployment) error {
	if d.ID == "" {
		return fmt.Errorf("inserting deployment %s: missing id", d.Name)
	}

	_, err := s.db.ExecContext(ctx, "INSERT INTO deployments ("+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.UserID, d.Username, d.Operator, d.DeploymentDir,
		nullTime(d.EstimatedDeployDate), d.EstimatedDeployLocation, d.WMOID, d.Completed,
		d.Created.UTC(), d.Updated.UTC(),
		d.GliderName, nullTime(d.DeploymentDate), d.ArchiveSafe, d.Checksum, d.Attribution, d.DelayedMode,
		d.LatestFile, nullTime(d.LatestFileMtime), d.ComplianceCheckPassed,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", dac.ErrDeploymentExists, d.Name)
		}
		return fmt.Errorf("inserting deployment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, d *dac.Deployment) error {
	res, err := s.db.ExecContext(ctx, `UPDATE deployments SET
		name = ?, user_id = ?, username = ?, operator = ?, deployment_dir = ?,
		estimated_deploy_date = ?, estimated_deploy_location = ?, wmo_id = ?, completed = ?,
		updated = ?, glider_name = ?, deployment_date = ?, archive_safe = ?, checksum = ?,
		attribution = ?, delayed_mode = ?, latest_file = ?, latest_file_mtime = ?
		WHERE id = ?`,
		d.Name, d.UserID, d.Username, d.Operator, d.DeploymentDir,
		nullTime(d.EstimatedDeployDate), d.EstimatedDeployLocation, d.WMOID, d.Completed,
		d.Updated.UTC(), d.GliderName, nullTime(d.DeploymentDate), d.ArchiveSafe, d.Checksum,
		d.Attribution, d.DelayedMode, d.LatestFile, nullTime(d.LatestFileMtime),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating deployment: %w", err)
	}
	return expectOneRow(res, d.ID)
}

func (s *SQLiteStore) SetComplianceCheckPassed(ctx context.Context, id string, passed bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE deployments SET compliance_check_passed = ? WHERE id = ?", passed, id)
	if err != nil {
		return fmt.Errorf("updating compliance indicator: %w", err)
	}
	return expectOneRow(res, id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM deployments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting deployment: %w", err)
	}
	return expectOneRow(res, id)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*dac.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+deploymentColumns+" FROM deployments ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var result []*dac.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) CountByOperator(ctx context.Context) ([]dac.OperatorCount, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT operator, COUNT(*) FROM deployments GROUP BY operator ORDER BY operator")
	if err != nil {
		return nil, fmt.Errorf("counting deployments by operator: %w", err)
	}
	defer rows.Close()

	var result []dac.OperatorCount
	for rows.Next() {
		var c dac.OperatorCount
		if err := rows.Scan(&c.Operator, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning operator count: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*dac.Deployment, error) {
	var d dac.Deployment
	var estimated, deployed, latestMtime sql.NullTime

	err := row.Scan(
		&d.ID, &d.Name, &d.UserID, &d.Username, &d.Operator, &d.DeploymentDir,
		&estimated, &d.EstimatedDeployLocation, &d.WMOID, &d.Completed, &d.Created, &d.Updated,
		&d.GliderName, &deployed, &d.ArchiveSafe, &d.Checksum, &d.Attribution, &d.DelayedMode,
		&d.LatestFile, &latestMtime, &d.ComplianceCheckPassed,
	)
	if err != nil {
		return nil, err
	}

	d.EstimatedDeployDate = timePtr(estimated)
	d.DeploymentDate = timePtr(deployed)
	d.LatestFileMtime = timePtr(latestMtime)
	d.Created = d.Created.UTC()
	d.Updated = d.Updated.UTC()
	return &d, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %s", dac.ErrDeploymentNotFound, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
