package cmd

import (
	"github.com/spf13/cobra"
)

var registerLayerGlobs []string

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "register name as reachable over the given layers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetClient().Reg(args[0], registerLayerGlobs)
	},
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister <name>",
	Short: "withdraw a registration added by register",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetClient().Unreg(args[0], registerLayerGlobs)
	},
}

func init() {
	rootCmd.AddCommand(registerCmd, unregisterCmd)
	registerCmd.Flags().StringSliceVar(&registerLayerGlobs, "layer", nil, "layer name glob(s) to register under (repeatable)")
	unregisterCmd.Flags().StringSliceVar(&registerLayerGlobs, "layer", nil, "layer name glob(s) sent with the request (repeatable); irmd removes the name from every layer")
}
