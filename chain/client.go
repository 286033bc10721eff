package chain

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/config"
)

var log = logging.Logger("chain")

// Binary is the chain client capability consumed over a subprocess
// boundary.
const Binary = "provider-services"

// Client executes queries and transactions through the chain client
// binary. Queries fail over across the configured RPC endpoints;
// transactions never do, since a blind retry risks a duplicate
// submission.
type Client struct {
	cfg    *config.Config
	runner Runner
	clk    clock.Clock

	// active is the currently selected RPC endpoint. Process-local;
	// reassigned by the failover path.
	active string
}

func NewClient(cfg *config.Config, runner Runner, endpoint string) *Client {
	return &Client{
		cfg:    cfg,
		runner: runner,
		clk:    clock.New(),
		active: endpoint,
	}
}

// Endpoint returns the currently active RPC endpoint.
func (c *Client) Endpoint() string {
	return c.active
}

// Query runs a read-only command. The active endpoint is tried first;
// when a chain query fails there, every remaining candidate endpoint
// is tried in list order, and the first one that answers becomes the
// new active endpoint.
func (c *Client) Query(ctx context.Context, args ...string) (Result, error) {
	keyring := containsAny(args, "keys", "lease-status", "lease-shell")

	stdout, stderr, code := c.attempt(ctx, c.active, args, keyring)
	if code != 0 && containsAny(args, "query", "tx") {
		log.Warnf("query failed on %s, trying failover nodes", c.active)

		pace := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
		for _, node := range c.cfg.RPCEndpoints {
			if node == c.active {
				continue
			}
			c.clk.Sleep(pace.Duration())
			log.Infof("trying backup node: %s", node)
			stdout, stderr, code = c.attempt(ctx, node, args, keyring)
			if code == 0 {
				log.Infof("query succeeded on backup node: %s", node)
				c.active = node
				break
			}
		}
	}

	if code != 0 {
		return Result{}, xerrors.Errorf("query failed on all endpoints: %s", stderr)
	}
	return Parse(stdout), nil
}

func (c *Client) attempt(ctx context.Context, node string, args []string, keyring bool) (string, string, int) {
	full := c.buildArgs(node, args, false, false, keyring)
	cctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout.Std())
	defer cancel()
	return c.runner.Run(cctx, Binary, full, "")
}

// Tx submits a state-changing transaction against the active endpoint.
// A failure is returned as-is; the caller decides what to do with it.
func (c *Client) Tx(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	full := c.buildArgs(c.active, args, true, false, true)
	cctx, cancel := context.WithTimeout(ctx, c.cfg.TxTimeout.Std())
	defer cancel()

	stdout, stderr, code := c.runner.Run(cctx, Binary, full, "")
	if code != 0 {
		return stdout, stderr, xerrors.Errorf("transaction failed: %s", stderr)
	}
	return stdout, stderr, nil
}

// Provider runs a provider-direct command (send-manifest, lease-status,
// lease-logs) with mTLS auth. These talk to the provider, not the
// chain, so there is no endpoint failover.
func (c *Client) Provider(ctx context.Context, timeout time.Duration, args ...string) (stdout, stderr string, code int) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.runner.Run(cctx, Binary, c.ProviderArgv(args...), "")
}

// ProviderArgv assembles the full argument vector for a provider-direct
// command. Exposed so the interactive shell path can spawn the command
// itself with inherited standard streams.
func (c *Client) ProviderArgv(args ...string) []string {
	out := append([]string{}, args...)
	out = append(out,
		"--keyring-backend", c.cfg.KeyringBackend,
		"--from", c.cfg.WalletName,
		"--node", c.active,
		"--auth-type", "mtls",
	)
	return out
}

// Keys runs a local keyring command. No endpoint involved; stdin
// carries key material when recovering.
func (c *Client) Keys(ctx context.Context, timeout time.Duration, stdin string, args ...string) (stdout, stderr string, code int) {
	full := append([]string{}, args...)
	full = append(full, "--keyring-backend", c.cfg.KeyringBackend)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.runner.Run(cctx, Binary, full, stdin)
}

func (c *Client) buildArgs(node string, args []string, gas, mtls, keyring bool) []string {
	out := append([]string{}, args...)
	if gas || containsAny(args, "query", "tx") {
		out = append(out, "--node", node)
	}
	if keyring {
		out = append(out, "--keyring-backend", c.cfg.KeyringBackend)
	}
	if gas || containsAny(args, "lease-status") {
		out = append(out, "--from", c.cfg.WalletName)
	}
	if gas {
		out = append(out,
			"--chain-id", c.cfg.ChainID,
			"--gas", c.cfg.Gas,
			"--gas-adjustment", c.cfg.GasAdjustment,
			"--gas-prices", c.cfg.GasPrices,
			"--yes",
		)
	}
	if mtls {
		out = append(out, "--auth-type", "mtls")
	}
	return out
}

func containsAny(args []string, words ...string) bool {
	for _, a := range args {
		for _, w := range words {
			if a == w {
				return true
			}
		}
	}
	return false
}
