package deploy

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
	"github.com/iwb/akash-deploy/state"
)

// fakeChain scripts chain interactions per argument pattern. Queries
// and provider commands dispatch on substrings of the joined argument
// vector; transactions are recorded for call-count assertions.
type fakeChain struct {
	endpoint string

	onQuery    func(args []string) (string, error)
	onTx       func(args []string) (string, string, error)
	onProvider func(args []string) (string, string, int)

	queryCalls    [][]string
	txCalls       [][]string
	providerCalls [][]string
}

func (f *fakeChain) Query(_ context.Context, args ...string) (chain.Result, error) {
	f.queryCalls = append(f.queryCalls, args)
	if f.onQuery == nil {
		return chain.Result{}, xerrors.New("query failed on all endpoints: no script")
	}
	out, err := f.onQuery(args)
	if err != nil {
		return chain.Result{}, err
	}
	return chain.Parse(out), nil
}

func (f *fakeChain) Tx(_ context.Context, args ...string) (string, string, error) {
	f.txCalls = append(f.txCalls, args)
	if f.onTx == nil {
		return "", "no script", xerrors.New("transaction failed: no script")
	}
	return f.onTx(args)
}

func (f *fakeChain) Provider(_ context.Context, _ time.Duration, args ...string) (string, string, int) {
	f.providerCalls = append(f.providerCalls, args)
	if f.onProvider == nil {
		return "", "no script", 1
	}
	return f.onProvider(args)
}

func (f *fakeChain) ProviderArgv(args ...string) []string {
	return append([]string{}, args...)
}

func (f *fakeChain) Endpoint() string {
	if f.endpoint == "" {
		return "https://rpc-test:443"
	}
	return f.endpoint
}

type fakeWallet struct {
	address    string
	balance    int64
	restoreErr error
	certErr    error
	certChain  bool
	certLocal  bool

	restores int
	cleanups int
}

func (w *fakeWallet) Restore(context.Context) error {
	w.restores++
	return w.restoreErr
}

func (w *fakeWallet) Address() string { return w.address }

func (w *fakeWallet) Balance(context.Context) int64 { return w.balance }

func (w *fakeWallet) EnsureCertificate(context.Context) error { return w.certErr }

func (w *fakeWallet) CertificateStatus(context.Context) (bool, bool) {
	return w.certChain, w.certLocal
}

func (w *fakeWallet) Cleanup(context.Context) { w.cleanups++ }

type fakeNotifier struct {
	subjects []string
	price    float64
	priceOK  bool
}

func (n *fakeNotifier) Send(subject, _ string) {
	n.subjects = append(n.subjects, subject)
}

func (n *fakeNotifier) AKTPrice(context.Context) (float64, bool) {
	return n.price, n.priceOK
}

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Project = "testproj"
	cfg.WalletName = "testprojakashwallet"
	cfg.BidInterval = config.Duration(time.Millisecond)
	cfg.BidTimeout = config.Duration(200 * time.Millisecond)
	cfg.ReadyInterval = config.Duration(time.Millisecond)
	cfg.ReadyTimeout = config.Duration(200 * time.Millisecond)
	return cfg
}

func testOrchestrator(t *testing.T, fc *fakeChain, fw *fakeWallet) (*Orchestrator, *state.Store, *fakeNotifier) {
	t.Helper()
	cfg := fastConfig()
	store := state.NewStore(filepath.Join(t.TempDir(), "active-deployment.json"))
	n := &fakeNotifier{}
	o := New(cfg, fc, fw, store, n, Manifest{Content: "services:\n  comfyui: {}\n"})
	return o, store, n
}

// argsHave reports whether every word appears somewhere in args.
func argsHave(args []string, words ...string) bool {
	joined := " " + strings.Join(args, " ") + " "
	for _, w := range words {
		if !strings.Contains(joined, " "+w+" ") {
			return false
		}
	}
	return true
}
