package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/dailyix/version"
)

// VersionCmd prints build information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if JSONOutput {
			return printJSON(info)
		}
		fmt.Println(info.String())
		return nil
	},
}
