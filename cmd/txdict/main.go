// Command txdict manages transactional document dictionaries from the
// command line and serves them over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/txdict/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
