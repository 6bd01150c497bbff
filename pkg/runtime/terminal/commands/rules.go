package commands

import (
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/services/audit"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/spf13/cobra"
)

type RulesCmd struct {
	configPath string
	extended   bool
	registry   registry.Registry
}

func NewRulesCmd(registry registry.Registry) *cobra.Command {
	rc := &RulesCmd{registry: registry}
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rules an audit would evaluate",
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.configPath, "config", "", "Path to the audit settings file")
	cmd.Flags().BoolVar(&rc.extended, "extended", false, "Include the supplementary rule set")

	return cmd
}

func (rc *RulesCmd) run(cmd *cobra.Command, _ []string) error {
	settings, err := config.LoadSettings(rc.configPath)
	if err != nil {
		return err
	}

	svc, err := audit.NewService(audit.Dependencies{Registry: rc.registry}, settings, rc.extended)
	if err != nil {
		return err
	}

	for _, r := range svc.Rules() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", r.Name, r.Description)
	}
	return nil
}
