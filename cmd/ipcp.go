package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ipcpCmd = &cobra.Command{
	Use:   "ipcp",
	Short: "create, destroy, bootstrap, or enroll an IPCP process",
}

var (
	ipcpCreateType string
)

var ipcpCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "create a new IPCP process",
	Args:  cobra.ExactArgs(1),
	RunE:  runIPCPCreate,
}

var ipcpDestroyCmd = &cobra.Command{
	Use:   "destroy <pid>",
	Short: "destroy an IPCP process",
	Args:  cobra.ExactArgs(1),
	RunE:  runIPCPDestroy,
}

var (
	bootstrapLayer    string
	bootstrapHashAlgo string
)

var ipcpBootstrapCmd = &cobra.Command{
	Use:   "bootstrap <pid>",
	Short: "bootstrap an IPCP as the first member of a new layer",
	Args:  cobra.ExactArgs(1),
	RunE:  runIPCPBootstrap,
}

var enrollDstLayer string

var ipcpEnrollCmd = &cobra.Command{
	Use:   "enroll <pid>",
	Short: "enroll an IPCP into an existing layer",
	Args:  cobra.ExactArgs(1),
	RunE:  runIPCPEnroll,
}

func init() {
	rootCmd.AddCommand(ipcpCmd)
	ipcpCmd.AddCommand(ipcpCreateCmd, ipcpDestroyCmd, ipcpBootstrapCmd, ipcpEnrollCmd)

	ipcpCreateCmd.Flags().StringVarP(&ipcpCreateType, "type", "t", "local", "ipcp type: local, shim-udp, shim-eth-llc, normal")

	ipcpBootstrapCmd.Flags().StringVar(&bootstrapLayer, "layer", "", "layer name this ipcp bootstraps")
	ipcpBootstrapCmd.Flags().StringVar(&bootstrapHashAlgo, "hash-algo", "blake2b-256", "directory hash algorithm for the new layer")

	ipcpEnrollCmd.Flags().StringVar(&enrollDstLayer, "dst-layer", "", "name of a layer member to enroll against")
	ipcpEnrollCmd.MarkFlagRequired("dst-layer")
}

func runIPCPCreate(cmd *cobra.Command, args []string) error {
	pid, err := GetClient().CreateIPCP(args[0], ipcpCreateType)
	if err != nil {
		return err
	}
	fmt.Println(pid)
	return nil
}

func runIPCPDestroy(cmd *cobra.Command, args []string) error {
	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}
	return GetClient().DestroyIPCP(pid)
}

func runIPCPBootstrap(cmd *cobra.Command, args []string) error {
	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}
	config := map[string]any{
		"layer":     bootstrapLayer,
		"hash_algo": bootstrapHashAlgo,
	}
	return GetClient().BootstrapIPCP(pid, config)
}

func runIPCPEnroll(cmd *cobra.Command, args []string) error {
	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}
	return GetClient().EnrollIPCP(pid, enrollDstLayer)
}
