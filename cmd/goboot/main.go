// Command goboot boots an application from a config file and supervises its
// worker processes. See "goboot help" for the available commands.
package main

import (
	"context"
	"os"

	"github.com/vnykmshr/goboot/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
