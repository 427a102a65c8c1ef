package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	ferrors "irmd-go/errors"
)

var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "bind a name to a program or a running process",
}

var unbindCmd = &cobra.Command{
	Use:   "unbind",
	Short: "remove a binding added by bind",
}

var bindProgramCmd = &cobra.Command{
	Use:   "program <name> <program-tag>",
	Short: "bind name to a program spawned on demand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetClient().BindProgram(args[0], args[1])
	},
}

var bindProcessCmd = &cobra.Command{
	Use:   "process <name> <pid>",
	Short: "bind name to an already-running process id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetClient().BindProcess(args[0], args[1])
	},
}

var unbindProgramCmd = &cobra.Command{
	Use:   "program <name> <program-tag>",
	Short: "remove a program binding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetClient().UnbindProgram(args[0], args[1])
	},
}

var unbindProcessCmd = &cobra.Command{
	Use:   "process <name> <pid>",
	Short: "remove a process binding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return GetClient().UnbindProcess(args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(bindCmd, unbindCmd)
	bindCmd.AddCommand(bindProgramCmd, bindProcessCmd)
	unbindCmd.AddCommand(unbindProgramCmd, unbindProcessCmd)
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, ferrors.Wrap(err, ferrors.EINVAL, "parse pid")
	}
	return pid, nil
}
