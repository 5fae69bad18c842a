package dac

import (
	"errors"
	"time"
)

// Sidecar files maintained inside every deployment directory.
const (
	MetadataFile  = "deployment.json"
	WMOIDFile     = "wmoid.txt"
	CompletedFile = "completed.txt"
	HashSuffix    = ".md5"
)

// DefaultDataExt is the extension of the primary data files of a deployment.
const DefaultDataExt = ".nc"

var (
	// ErrDeploymentNotFound is returned when a deployment lookup has no match.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrDeploymentExists is returned when inserting a name that is taken.
	ErrDeploymentExists = errors.New("deployment already exists")
)

// Deployment is a named glider mission record with an associated directory
// of data files. DeploymentDir is relative to the configured data root.
type Deployment struct {
	ID                      string     `json:"_id"`
	Name                    string     `json:"name"`
	UserID                  string     `json:"user_id"`
	Username                string     `json:"username"`
	Operator                string     `json:"operator"`
	DeploymentDir           string     `json:"deployment_dir"`
	EstimatedDeployDate     *time.Time `json:"estimated_deploy_date"`
	EstimatedDeployLocation string     `json:"estimated_deploy_location"`
	WMOID                   string     `json:"wmo_id"`
	Completed               bool       `json:"completed"`
	Created                 time.Time  `json:"created"`
	Updated                 time.Time  `json:"updated"`
	GliderName              string     `json:"glider_name"`
	DeploymentDate          *time.Time `json:"deployment_date"`
	ArchiveSafe             bool       `json:"archive_safe"`
	Checksum                string     `json:"checksum"`
	Attribution             string     `json:"attribution"`
	DelayedMode             bool       `json:"delayed_mode"`
	LatestFile              string     `json:"latest_file"`
	LatestFileMtime         *time.Time `json:"latest_file_mtime"`
	ComplianceCheckPassed   bool       `json:"compliance_check_passed"`
}

// NewDeployment returns a deployment carrying the record defaults:
// not completed, archive safe, not delayed mode.
func NewDeployment(name, username, deploymentDir string) *Deployment {
	return &Deployment{
		Name:          name,
		Username:      username,
		DeploymentDir: deploymentDir,
		ArchiveSafe:   true,
	}
}

// Persisted reports whether the deployment has been saved at least once.
func (d *Deployment) Persisted() bool {
	return d.ID != ""
}

// Title is the operator when set, otherwise the owning username.
func (d *Deployment) Title() string {
	if d.Operator != "" {
		return d.Operator
	}
	return d.Username
}

// ComplianceJobID is the deterministic job id of the deferred compliance
// check for the named deployment.
func ComplianceJobID(name string) string {
	return name + "_compliance_check"
}

// OperatorCount is the number of deployments run by one operator.
type OperatorCount struct {
	Operator string
	Count    int
}
