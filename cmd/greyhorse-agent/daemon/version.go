package daemon

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greyhorse-org/greyhorse/internal/constants"
)

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Returns the running version of " + constants.AgentCmdName + " and exits",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return getVersion() },
	}
	a.cmd.AddCommand(cmd)
}

// getVersion returns the current agent version.
func getVersion() (err error) {
	fmt.Printf("%s\t%s\n", constants.AgentCmdName, constants.Version)
	return nil
}
