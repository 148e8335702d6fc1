// Command cdv runs the CDV certificate engine: the HTTP API, the batch
// job scheduler and the operator commands.
package main

import (
	"os"

	"github.com/roach88/cdv/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
