// Command episodia runs the Episodia economy service and its admin tooling.
package main

import (
	"os"

	"github.com/episodia/episodia/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
