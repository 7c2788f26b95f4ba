// Command engagectl runs operator tasks against the engagement store.
package main

import (
	"fmt"
	"os"

	"engagement/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.OpenFromConfig).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
