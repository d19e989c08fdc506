package commands

import (
	"fmt"

	"github.com/fly-io/thinp-harness/pkg/suite"
	"github.com/spf13/cobra"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List registered scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range suite.Scenarios() {
			fmt.Println(s.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenariosCmd)
}
