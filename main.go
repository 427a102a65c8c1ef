// irm is the CLI collaborator for irmd, dialing its control socket to
// create and bootstrap IPCPs, bind names to programs or processes,
// register names with a layer, and list running IPCPs.
package main

import (
	"fmt"
	"os"

	"irmd-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "irm:", err)
		os.Exit(1)
	}
}
