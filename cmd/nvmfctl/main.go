// Command nvmfctl is the nvmftcpd introspection and configuration CLI. It
// talks to a running daemon over its Unix control socket (pkg/control) for
// live state, and to pkg/config directly for anything config-file shaped.
package main

import (
	"fmt"
	"os"

	"github.com/nvmftcpd/nvmftcpd/cmd/nvmfctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
