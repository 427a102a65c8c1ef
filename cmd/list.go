package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listGlob string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list running IPCP processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		pids, err := GetClient().ListIPCPs(listGlob)
		if err != nil {
			return err
		}
		for _, pid := range pids {
			fmt.Println(pid)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listGlob, "glob", "", "filter by name glob")
}
