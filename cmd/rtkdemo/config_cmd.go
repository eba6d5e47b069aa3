package main

import (
	"fmt"

	"github.com/Swind/go-rtkernel/config"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the default configuration as YAML",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "write",
				Aliases: []string{"w"},
				Usage:   "Write the configuration to `FILE` instead of stdout",
			},
		},

		Action: configAction,
	}
}

func configAction(c *cli.Context) error {
	cfg := config.DefaultConfig()

	if path := c.String("write"); path != "" {
		if err := cfg.Save(path); err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	_, err = c.App.Writer.Write(data)
	return err
}
