package commands

import (
	"errors"
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/runtime/wiring"
	"github.com/de-tools/identity-atlas/pkg/services/audit"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/spf13/cobra"
)

// ErrFindingsAboveThreshold is returned by run when --fail-on matches a finding.
var ErrFindingsAboveThreshold = errors.New("findings at or above the failure threshold")

type ReportHandler interface {
	Handle(report domain.AuditReport) error
}

type RunCmd struct {
	configPath   string
	profilesPath string
	profile      string
	platform     string
	output       string
	failOn       string
	retries      uint64
	extended     bool
	registry     registry.Registry
	reporter     func() ReportHandler
}

func NewRunCmd(registry registry.Registry, reporter func() ReportHandler) *cobra.Command {
	rc := &RunCmd{registry: registry, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect identities for a platform and audit them",
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.configPath, "config", "", "Path to the audit settings file (yaml, json or toml)")
	cmd.Flags().StringVar(&rc.profilesPath, "profiles", "", "Path to the ini file holding connection profiles")
	cmd.Flags().StringVar(&rc.profile, "profile", "", "Profile to audit")
	cmd.Flags().StringVar(&rc.platform, "platform", "", "Platform to audit; inferred from the profile when empty")
	cmd.Flags().StringVar(&rc.output, "output", "", "Write the JSON report to this path")
	cmd.Flags().StringVar(&rc.failOn, "fail-on", "", "Exit with an error when a finding has this severity or higher")
	cmd.Flags().Uint64Var(&rc.retries, "retries", 0, "Retry transient collection failures this many times")
	cmd.Flags().BoolVar(&rc.extended, "extended", false, "Enable the supplementary rule set")

	return cmd
}

func (rc *RunCmd) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var threshold domain.Severity
	if rc.failOn != "" {
		var err error
		if threshold, err = domain.ParseSeverity(rc.failOn); err != nil {
			return fmt.Errorf("invalid --fail-on value: %w", err)
		}
	}

	settings, err := config.LoadSettings(rc.configPath)
	if err != nil {
		return err
	}
	if rc.output != "" {
		settings.Output.Path = rc.output
	}

	app, err := wiring.Build(ctx, wiring.Options{
		Settings:     settings,
		ProfilesPath: rc.profilesPath,
		Extended:     rc.extended,
		Registry:     rc.registry,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Service.Run(ctx, audit.Request{
		Platform: rc.platform,
		Profile:  rc.profile,
		Retries:  rc.retries,
	})
	if err != nil && report.RunID == "" {
		return err
	}

	// A report that failed to persist is still shown.
	if handleErr := rc.reporter().Handle(report); handleErr != nil {
		return errors.Join(err, handleErr)
	}
	if err != nil {
		return err
	}

	if rc.failOn != "" && hasFindingAtLeast(report, threshold) {
		return fmt.Errorf("%w: %s", ErrFindingsAboveThreshold, threshold)
	}
	return nil
}

func hasFindingAtLeast(report domain.AuditReport, threshold domain.Severity) bool {
	for _, f := range report.Findings() {
		if f.Severity >= threshold {
			return true
		}
	}
	return false
}
