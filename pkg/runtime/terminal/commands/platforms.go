package commands

import (
	"fmt"
	"strings"

	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/spf13/cobra"
)

func NewPlatformsCmd(registry registry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List the platforms identities can be collected from",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Supported platforms:\n%s\n",
				strings.Join(registry.ListPlatforms(), "\n"))
			return nil
		},
	}
}
