package dac

import "context"

// DeploymentStore persists deployment records.
// Lookups return nil and no error when nothing matches.
type DeploymentStore interface {
	// FindByName returns the deployment with the given unique name.
	FindByName(ctx context.Context, name string) (*Deployment, error)

	// FindByDir returns the deployment stored under the given deployment directory.
	FindByDir(ctx context.Context, deploymentDir string) (*Deployment, error)

	// Insert stores a new deployment. The deployment must carry an ID.
	Insert(ctx context.Context, d *Deployment) error

	// Update overwrites every attribute of an existing deployment except
	// compliance_check_passed, which is owned by the compliance job.
	Update(ctx context.Context, d *Deployment) error

	// SetComplianceCheckPassed updates only the compliance indicator so a
	// finished check does not clobber concurrent edits of the record.
	SetComplianceCheckPassed(ctx context.Context, id string, passed bool) error

	// Delete removes the deployment record.
	Delete(ctx context.Context, id string) error

	// List returns all deployments ordered by name.
	List(ctx context.Context) ([]*Deployment, error)

	// CountByOperator returns the number of deployments per operator.
	CountByOperator(ctx context.Context) ([]OperatorCount, error)

	// Close releases the underlying connection.
	Close() error
}
