// Command nvmftcpd is the NVMe/TCP target daemon. Grounded on the
// the cmd/dfs/main.go: a thin entry point that hands version
// metadata to the cobra command tree and runs it.
package main

import (
	"fmt"
	"os"

	"github.com/nvmftcpd/nvmftcpd/cmd/nvmftcpd/commands"
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
