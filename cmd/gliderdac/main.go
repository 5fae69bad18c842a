package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gliderdac/internal/app"
	"gliderdac/internal/config"
	"gliderdac/internal/dac"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CreateDeployment", "Worker").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := promptMailPassword(cfg, os.Stderr); err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "gliderdac",
	Short: "Glider DAC deployment lifecycle coordinator",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.DataRoot = defaults["data_root"]
		cfg.Watcher.BaseDir = defaults["data_root"]

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Data Root: %s\n", cfg.DataRoot)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Data Root:    %s\n", cfg.DataRoot)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Jobs:         %s\n", cfg.Jobs.Type)
		fmt.Printf("Watcher Dir:  %s\n", cfg.Watcher.BaseDir)
		archive := cfg.Archive.Type
		if archive == "" {
			archive = "disabled"
		}
		fmt.Printf("Archive:      %s\n", archive)
		mail := cfg.Mail.Host
		if mail == "" {
			mail = "log only"
		}
		fmt.Printf("Mail:         %s\n", mail)
		return nil
	},
}

// deployment command
var deploymentCmd = &cobra.Command{
	Use:   "deployment",
	Short: "Manage glider deployments",
}

var deploymentCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a deployment and create its directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := app.DeploymentInput{Name: args[0]}
		in.Username, _ = flags.GetString("user")
		in.Operator, _ = flags.GetString("operator")
		in.GliderName, _ = flags.GetString("glider")
		in.WMOID, _ = flags.GetString("wmo-id")
		in.Attribution, _ = flags.GetString("attribution")
		in.EstimatedDeployLocation, _ = flags.GetString("location")
		in.DelayedMode, _ = flags.GetBool("delayed-mode")

		if raw, _ := flags.GetString("deployment-date"); raw != "" {
			t, err := parseDate(raw)
			if err != nil {
				return err
			}
			in.DeploymentDate = &t
		}

		a, err := newApp(cmd.Context(), "CreateDeployment")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.CreateDeployment(cmd.Context(), in)
		if err != nil {
			return fmt.Errorf("creating deployment: %w", err)
		}

		fmt.Printf("Created deployment %s in %s\n", d.Name, d.DeploymentDir)
		return nil
	},
}

var deploymentSyncCmd = &cobra.Command{
	Use:   "sync NAME",
	Short: "Re-sync a deployment directory with its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SyncDeployment")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.SyncDeployment(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("syncing deployment: %w", err)
		}

		fmt.Printf("Synced %s (checksum %s)\n", d.Name, d.Checksum)
		return nil
	},
}

var deploymentCompleteCmd = &cobra.Command{
	Use:   "complete NAME",
	Short: "Mark a deployment completed and schedule its compliance check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CompleteDeployment")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.CompleteDeployment(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("completing deployment: %w", err)
		}

		fmt.Printf("Completed %s\n", d.Name)
		if !d.ComplianceCheckPassed {
			fmt.Printf("Compliance check job: %s\n", dac.ComplianceJobID(d.Name))
		}
		return nil
	},
}

var deploymentReopenCmd = &cobra.Command{
	Use:   "reopen NAME",
	Short: "Clear the completed flag of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ReopenDeployment")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.ReopenDeployment(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("reopening deployment: %w", err)
		}

		fmt.Printf("Reopened %s\n", d.Name)
		return nil
	},
}

var deploymentDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a deployment and all of its directories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "DeleteDeployment")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteDeployment(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("deleting deployment: %w", err)
		}

		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var deploymentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		byOperator, _ := cmd.Flags().GetBool("by-operator")

		a, err := newApp(cmd.Context(), "ListDeployments")
		if err != nil {
			return err
		}
		defer a.Close()

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer tw.Flush()

		if byOperator {
			counts, err := a.CountByOperator(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range counts {
				fmt.Fprintf(tw, "%s\t%d\n", c.Operator, c.Count)
			}
			return nil
		}

		deployments, err := a.ListDeployments(cmd.Context())
		if err != nil {
			return err
		}

		if len(deployments) == 0 {
			fmt.Println("No deployments.")
			return nil
		}

		for _, d := range deployments {
			state := "active"
			if d.Completed {
				state = "completed"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Title(), state, d.Updated.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var deploymentShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a deployment and its public URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetDeployment")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.GetDeployment(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer tw.Flush()

		fmt.Fprintf(tw, "Name:\t%s\n", d.Name)
		fmt.Fprintf(tw, "ID:\t%s\n", d.ID)
		fmt.Fprintf(tw, "User:\t%s\n", d.Username)
		fmt.Fprintf(tw, "Operator:\t%s\n", d.Operator)
		fmt.Fprintf(tw, "Glider:\t%s\n", d.GliderName)
		fmt.Fprintf(tw, "Directory:\t%s\n", d.DeploymentDir)
		fmt.Fprintf(tw, "WMO ID:\t%s\n", d.WMOID)
		fmt.Fprintf(tw, "Completed:\t%t\n", d.Completed)
		fmt.Fprintf(tw, "Delayed mode:\t%t\n", d.DelayedMode)
		fmt.Fprintf(tw, "Compliance passed:\t%t\n", d.ComplianceCheckPassed)
		fmt.Fprintf(tw, "Checksum:\t%s\n", d.Checksum)
		if d.LatestFile != "" && d.LatestFileMtime != nil {
			fmt.Fprintf(tw, "Latest file:\t%s (%s)\n", d.LatestFile, d.LatestFileMtime.Format(time.RFC3339))
		}
		fmt.Fprintf(tw, "Created:\t%s\n", d.Created.Format(time.RFC3339))
		fmt.Fprintf(tw, "Updated:\t%s\n", d.Updated.Format(time.RFC3339))

		urls := a.URLs()
		if urls.Thredds != "" {
			fmt.Fprintf(tw, "DAP:\t%s\n", urls.DAP(d))
			fmt.Fprintf(tw, "SOS:\t%s\n", urls.SOS(d))
			fmt.Fprintf(tw, "ISO:\t%s\n", urls.ISO(d))
			fmt.Fprintf(tw, "THREDDS:\t%s\n", urls.THREDDS(d))
		}
		if urls.PublicErddap != "" {
			fmt.Fprintf(tw, "ERDDAP:\t%s\n", urls.ERDDAP(d))
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch [BASEDIR]",
	Short: "Notify about new mission directories without a WMO ID",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		a, err := newApp(cmd.Context(), "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		var baseDir string
		if len(args) > 0 {
			baseDir = args[0]
		}

		if err := a.Watch(cmd.Context(), baseDir, timeout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run deferred jobs as they become due",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		a, err := newApp(cmd.Context(), "Worker")
		if err != nil {
			return err
		}
		defer a.Close()

		if once {
			n, err := a.NewWorker().RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Ran %d job(s)\n", n)
			return nil
		}
		return a.RunWorker(cmd.Context())
	},
}

// jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect deferred jobs",
}

var jobsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a deferred job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetJob")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer tw.Flush()

		fmt.Fprintf(tw, "ID:\t%s\n", job.ID)
		fmt.Fprintf(tw, "Func:\t%s\n", job.Func)
		fmt.Fprintf(tw, "Args:\t%s\n", formatArgs(job.Args))
		fmt.Fprintf(tw, "Status:\t%s\n", job.Status)
		fmt.Fprintf(tw, "Enqueued:\t%s\n", job.EnqueuedAt.Format(time.RFC3339))
		fmt.Fprintf(tw, "Run at:\t%s\n", job.RunAt.Format(time.RFC3339))
		fmt.Fprintf(tw, "Timeout:\t%s\n", job.Timeout)
		if !job.EndedAt.IsZero() {
			fmt.Fprintf(tw, "Ended:\t%s\n", job.EndedAt.Format(time.RFC3339))
		}
		if job.Error != "" {
			fmt.Fprintf(tw, "Error:\t%s\n", job.Error)
		}
		return nil
	},
}

// parseDate accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func formatArgs(args map[string]string) string {
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// deployment subcommands
	deploymentCmd.AddCommand(deploymentCreateCmd)
	deploymentCreateCmd.Flags().StringP("user", "u", "", "Owning username (required)")
	deploymentCreateCmd.MarkFlagRequired("user")
	deploymentCreateCmd.Flags().String("operator", "", "Operating institution")
	deploymentCreateCmd.Flags().String("glider", "", "Glider name")
	deploymentCreateCmd.Flags().String("wmo-id", "", "WMO ID")
	deploymentCreateCmd.Flags().String("attribution", "", "Attribution text")
	deploymentCreateCmd.Flags().String("location", "", "Estimated deployment location")
	deploymentCreateCmd.Flags().String("deployment-date", "", "Deployment date (YYYY-MM-DD or RFC 3339)")
	deploymentCreateCmd.Flags().Bool("delayed-mode", false, "Delayed-mode deployment")
	deploymentCmd.AddCommand(deploymentSyncCmd)
	deploymentCmd.AddCommand(deploymentCompleteCmd)
	deploymentCmd.AddCommand(deploymentReopenCmd)
	deploymentCmd.AddCommand(deploymentDeleteCmd)
	deploymentCmd.AddCommand(deploymentListCmd)
	deploymentListCmd.Flags().Bool("by-operator", false, "Show deployment counts per operator")
	deploymentCmd.AddCommand(deploymentShowCmd)

	// jobs subcommands
	jobsCmd.AddCommand(jobsShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(deploymentCmd)
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("timeout", 0, "Notification delay (default from config)")
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Bool("once", false, "Run due jobs once and exit")
	rootCmd.AddCommand(jobsCmd)
}
