// Command sensorcachectl inspects and maintains an offline sensor cache.
package main

import (
	"fmt"
	"os"

	"github.com/chronicle-db/sensorcache/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
