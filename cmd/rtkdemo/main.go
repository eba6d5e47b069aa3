// Command rtkdemo runs kernel scenarios against a wall-clock tick driver.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "rtkdemo",
		Usage: "Run real-time kernel scheduling scenarios",
		Commands: []*cli.Command{
			runCommand(),
			configCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
