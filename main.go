package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"nexus/internal/commands"
)

func main() {
	app := &cli.App{
		Name:     "nexus",
		Usage:    "compose, publish and render dashboard pages",
		Flags:    commands.Flags,
		Commands: commands.Commands,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
