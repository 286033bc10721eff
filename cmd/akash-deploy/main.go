package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/iwb/akash-deploy/build"
	deploycli "github.com/iwb/akash-deploy/cli"
)

var log = logging.Logger("akash-deploy")

func main() {
	app := &cli.App{
		Name:     "akash-deploy",
		Usage:    "Deploy and manage ComfyUI workloads on the Akash network",
		Version:  build.UserVersion(),
		Commands: deploycli.Commands,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "also log to stderr, at debug level",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				log.Error(msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
