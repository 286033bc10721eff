package cli

import (
	"encoding/json"
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
	"github.com/iwb/akash-deploy/deploy"
	"github.com/iwb/akash-deploy/notify"
	"github.com/iwb/akash-deploy/rpc"
	"github.com/iwb/akash-deploy/state"
	"github.com/iwb/akash-deploy/wallet"
)

// printResult writes the envelope as the process's single stdout
// document. A failed operation still prints its envelope, then exits
// nonzero.
func printResult(v interface{}, success bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !success {
		return cli.Exit("", 1)
	}
	return nil
}

// fail prints a minimal failure envelope to stderr for errors raised
// before any component exists to build a richer one.
func fail(msg string) error {
	data, _ := json.MarshalIndent(map[string]interface{}{
		"success": false,
		"error":   msg,
	}, "", "  ")
	fmt.Fprintln(os.Stderr, string(data))
	return cli.Exit("", 1)
}

// SetupLogging routes logs to a timestamped file, plus stderr when
// --debug is set. Stdout stays reserved for the JSON envelope.
func SetupLogging(cctx *cli.Context, cfg *config.Config) {
	level := logging.LevelInfo
	if cctx.Bool("debug") {
		level = logging.LevelDebug
	}
	logging.SetupLogging(logging.Config{
		Format: logging.PlaintextOutput,
		Level:  level,
		Stderr: cctx.Bool("debug"),
		Stdout: false,
		File:   cfg.LogFile(""),
	})
}

// components is the fully wired stack behind every command: config,
// RPC selection, chain client, wallet, notifier, state store and the
// orchestrator on top.
type components struct {
	cfg  *config.Config
	orch *deploy.Orchestrator
	rpc  *deploy.RPCInfo
}

func build(cctx *cli.Context, manifest deploy.Manifest) (*components, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	SetupLogging(cctx, cfg)

	runner := chain.NewRunner()
	prober := rpc.NewProber(cfg, nil, runner)
	endpoint, results := prober.Select(cctx.Context)

	available := make([]string, 0, len(results))
	for _, r := range results {
		if r.Reachable() {
			available = append(available, r.Endpoint)
		}
	}

	client := chain.NewClient(cfg, runner, endpoint)
	w := wallet.New(cfg, client, runner)
	n := notify.New(cfg, runner)
	store := state.NewStore(cfg.StateFile())

	return &components{
		cfg:  cfg,
		orch: deploy.New(cfg, client, w, store, n, manifest),
		rpc:  &deploy.RPCInfo{SelectedNode: endpoint, AvailableNodes: available},
	}, nil
}

// manifestFromFlags resolves the workload definition from either the
// file or the inline flag. Exactly one is required.
func manifestFromFlags(cctx *cli.Context) (deploy.Manifest, error) {
	path := cctx.String("manifest-file")
	inline := cctx.String("manifest")

	switch {
	case path != "" && inline != "":
		return deploy.Manifest{}, xerrors.New("use either --manifest-file or --manifest, not both")
	case path != "":
		if _, err := os.Stat(path); err != nil {
			return deploy.Manifest{}, xerrors.Errorf("manifest file not found: %s", path)
		}
		return deploy.Manifest{Path: path}, nil
	case inline != "":
		return deploy.Manifest{Content: inline}, nil
	default:
		return deploy.Manifest{}, xerrors.New("a manifest is required: pass --manifest-file or --manifest")
	}
}
