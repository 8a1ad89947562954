package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for ledgerd
var RootCmd = &cobra.Command{
	Use:              "ledgerd",
	Short:            "classroom attendance ledger node",
	TraverseChildren: true,
}
