package cli

import (
	"github.com/urfave/cli/v2"

	"github.com/iwb/akash-deploy/deploy"
)

// Commands is the full set the binary exposes.
var Commands = []*cli.Command{
	DeployCmd,
	DryRunCmd,
	CloseCmd,
	StatusCmd,
	LogsCmd,
	ShellCmd,
	RPCInfoCmd,
}

var manifestFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "manifest-file",
		Aliases: []string{"f"},
		Usage:   "path to the SDL manifest file",
	},
	&cli.StringFlag{
		Name:    "manifest",
		Aliases: []string{"y"},
		Usage:   "inline SDL manifest content",
	},
}

var DeployCmd = &cli.Command{
	Name:  "deploy",
	Usage: "Create (or resume) a deployment and wait until it is ready",
	Flags: manifestFlags,
	Action: func(cctx *cli.Context) error {
		manifest, err := manifestFromFlags(cctx)
		if err != nil {
			return fail(err.Error())
		}
		c, err := build(cctx, manifest)
		if err != nil {
			return fail(err.Error())
		}
		res := c.orch.Run(cctx.Context)
		return printResult(res, res.Success)
	},
}

var DryRunCmd = &cli.Command{
	Name:  "dry-run",
	Usage: "Validate wallet, balance, certificate and RPC without deploying",
	Flags: manifestFlags,
	Action: func(cctx *cli.Context) error {
		manifest, err := manifestFromFlags(cctx)
		if err != nil {
			return fail(err.Error())
		}
		c, err := build(cctx, manifest)
		if err != nil {
			return fail(err.Error())
		}
		res := c.orch.DryRun(cctx.Context)
		return printResult(res, res.Success)
	},
}

var CloseCmd = &cli.Command{
	Name:  "close",
	Usage: "Close the active deployment and report its cost",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "dseq",
			Usage: "deployment sequence to close (defaults to the active one)",
		},
	},
	Action: func(cctx *cli.Context) error {
		c, err := build(cctx, deploy.Manifest{})
		if err != nil {
			return fail(err.Error())
		}
		res := c.orch.Close(cctx.Context, cctx.String("dseq"))
		return printResult(res, res.Success)
	},
}

var StatusCmd = &cli.Command{
	Name:  "status",
	Usage: "Report lease and service status for the active deployment",
	Action: func(cctx *cli.Context) error {
		c, err := build(cctx, deploy.Manifest{})
		if err != nil {
			return fail(err.Error())
		}
		res := c.orch.Status(cctx.Context)
		return printResult(res, res.Success)
	},
}

var LogsCmd = &cli.Command{
	Name:  "logs",
	Usage: "Fetch service logs from the provider",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "follow",
			Usage: "stream logs continuously",
		},
		&cli.IntFlag{
			Name:  "tail",
			Usage: "number of recent lines to fetch",
			Value: 100,
		},
	},
	Action: func(cctx *cli.Context) error {
		c, err := build(cctx, deploy.Manifest{})
		if err != nil {
			return fail(err.Error())
		}
		res := c.orch.Logs(cctx.Context, cctx.Bool("follow"), cctx.Int("tail"))
		return printResult(res, res.Success)
	},
}

var ShellCmd = &cli.Command{
	Name:  "shell",
	Usage: "Open an interactive shell inside a deployed service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "service",
			Usage: "service name to attach to",
			Value: "comfyui",
		},
	},
	Action: func(cctx *cli.Context) error {
		c, err := build(cctx, deploy.Manifest{})
		if err != nil {
			return fail(err.Error())
		}
		code, err := c.orch.Shell(cctx.Context, cctx.String("service"))
		if err != nil {
			return fail(err.Error())
		}
		if code != 0 {
			return cli.Exit("", code)
		}
		return nil
	},
}

var RPCInfoCmd = &cli.Command{
	Name:  "rpc-info",
	Usage: "Show which RPC node would be selected",
	Action: func(cctx *cli.Context) error {
		c, err := build(cctx, deploy.Manifest{})
		if err != nil {
			return fail(err.Error())
		}
		return printResult(c.rpc, true)
	},
}
