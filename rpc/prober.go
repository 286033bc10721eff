package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
)

var log = logging.Logger("rpc")

// ProbeResult is the measured outcome for one candidate endpoint.
type ProbeResult struct {
	Endpoint string
	Latency  time.Duration
	Err      error
}

func (r ProbeResult) Reachable() bool {
	return r.Err == nil
}

// Prober tests candidate RPC endpoints and picks the fastest reachable
// one. Runs once at startup; mid-run reselection is the chain client's
// failover business.
type Prober struct {
	cfg    *config.Config
	http   *http.Client
	runner chain.Runner
}

func NewProber(cfg *config.Config, httpClient *http.Client, runner chain.Runner) *Prober {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Prober{cfg: cfg, http: httpClient, runner: runner}
}

// Select probes every candidate concurrently and returns the fastest
// reachable endpoint along with the full result table. When nothing
// answers it falls back to the configured default rather than failing
// startup.
func (p *Prober) Select(ctx context.Context) (string, []ProbeResult) {
	log.Info("testing RPC node connectivity and speed")

	results := make([]ProbeResult, len(p.cfg.RPCEndpoints))
	var eg errgroup.Group
	for i, node := range p.cfg.RPCEndpoints {
		i, node := i, node
		eg.Go(func() error {
			latency, err := p.probe(ctx, node)
			results[i] = ProbeResult{Endpoint: node, Latency: latency, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	best, ok := pickBest(results)
	if !ok {
		var errs error
		for _, r := range results {
			errs = multierror.Append(errs, xerrors.Errorf("%s: %w", r.Endpoint, r.Err))
		}
		log.Warnf("all RPC nodes failed, using fallback: %s", p.cfg.FallbackRPC)
		log.Debugf("probe failures: %v", errs)
		return p.cfg.FallbackRPC, results
	}

	reachable := 0
	for _, r := range results {
		if r.Reachable() {
			reachable++
		} else {
			log.Debugf("  unreachable %s: %v", r.Endpoint, r.Err)
		}
	}
	log.Infof("selected RPC node: %s (%.3fs, %d/%d nodes working)",
		best.Endpoint, best.Latency.Seconds(), reachable, len(results))
	return best.Endpoint, results
}

// pickBest returns the reachable result with the lowest latency; ties
// keep the first-seen entry.
func pickBest(results []ProbeResult) (ProbeResult, bool) {
	var best ProbeResult
	found := false
	for _, r := range results {
		if !r.Reachable() {
			continue
		}
		if !found || r.Latency < best.Latency {
			best = r
			found = true
		}
	}
	return best, found
}

// probe checks basic reachability via the node's status endpoint, then
// functional correctness via a real chain query. Either failing marks
// the endpoint unreachable; it never aborts selection.
func (p *Prober) probe(ctx context.Context, node string) (time.Duration, error) {
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, p.cfg.StatusProbeTimeout.Std())
	defer cancel()
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, node+"/status", nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, xerrors.Errorf("status probe returned %d", resp.StatusCode)
	}

	qctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout.Std())
	defer cancel()
	_, stderr, code := p.runner.Run(qctx, chain.Binary, []string{"query", "block", "--node", node}, "")
	if code != 0 {
		return 0, xerrors.Errorf("block query failed: %s", stderr)
	}

	return time.Since(start), nil
}
