package compliance

import (
	"fmt"
	"strings"
)

// FileResult is the outcome of checking one data file.
type FileResult struct {
	Name string
	Err  error
}

// Report is the outcome of a deployment compliance check.
type Report struct {
	Deployment string
	Dir        string
	Files      []FileResult
	Problems   []string // deployment-level problems
}

// Passed reports whether the deployment has data files and no problems.
func (r *Report) Passed() bool {
	if len(r.Problems) > 0 || len(r.Files) == 0 {
		return false
	}
	for _, f := range r.Files {
		if f.Err != nil {
			return false
		}
	}
	return true
}

func (r *Report) failedFiles() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Subject is the notification subject line for the report.
func (r *Report) Subject() string {
	status := "PASSED"
	if !r.Passed() {
		status = "FAILED"
	}
	return fmt.Sprintf("Glider Deployment Compliance Check %s - %s", status, r.Deployment)
}

// Body renders the report as plain text.
func (r *Report) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deployment: %s\n", r.Deployment)
	fmt.Fprintf(&b, "Directory: %s\n", r.Dir)
	fmt.Fprintf(&b, "Data files checked: %d, failed: %d\n", len(r.Files), r.failedFiles())

	if len(r.Problems) > 0 {
		b.WriteString("\nProblems:\n")
		for _, p := range r.Problems {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}

	if n := r.failedFiles(); n > 0 {
		b.WriteString("\nFailed files:\n")
		for _, f := range r.Files {
			if f.Err != nil {
				fmt.Fprintf(&b, "  - %s: %v\n", f.Name, f.Err)
			}
		}
	}
	return b.String()
}
