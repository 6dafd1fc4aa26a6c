package commands

import (
	"github.com/davidjrichardson/erts-2020/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for tpwsn
var RootCmd = &cobra.Command{
	Use:              "tpwsn",
	Short:            "transiently-powered sensor node protocols",
	TraverseChildren: true,
}
