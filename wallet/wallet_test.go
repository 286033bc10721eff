package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
)

// fakeRunner dispatches on the binary name so wallet flows that shell
// out to uplink and tar can be simulated without real archives.
type fakeRunner struct {
	calls []string
	fn    func(name string, args []string, stdin string) (string, string, int)
}

func (r *fakeRunner) Run(_ context.Context, name string, args []string, stdin string) (string, string, int) {
	r.calls = append(r.calls, name)
	return r.fn(name, args, stdin)
}

func walletConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Project = "testproj"
	cfg.WalletName = "testprojakashwallet"
	cfg.StorjBucket = "wpops"
	cfg.Domain = "example.com"
	cfg.Home = t.TempDir()
	cfg.QueryTimeout = config.Duration(5 * time.Second)
	return cfg
}

func newTestWallet(t *testing.T, fn func(name string, args []string, stdin string) (string, string, int)) (*Wallet, *fakeRunner) {
	t.Helper()
	cfg := walletConfig(t)
	runner := &fakeRunner{fn: fn}
	client := chain.NewClient(cfg, runner, "https://rpc-test:443")
	return New(cfg, client, runner), runner
}

func TestRestoreReusesExistingKey(t *testing.T) {
	w, runner := newTestWallet(t, func(name string, args []string, _ string) (string, string, int) {
		require.Equal(t, chain.Binary, name)
		return `[{"name": "testprojakashwallet", "address": "akash1existing"}]`, "", 0
	})

	require.NoError(t, w.Restore(context.Background()))
	require.Equal(t, "akash1existing", w.Address())
	require.NotContains(t, runner.calls, "uplink")
}

func TestRestoreFromStorjBackup(t *testing.T) {
	backup, err := json.Marshal(backupRecord{
		Mnemonic:   "abandon ability able",
		Address:    "akash1restored",
		WalletName: "testprojakashwallet",
		Project:    "testproj",
	})
	require.NoError(t, err)

	var importStdin string
	w, runner := newTestWallet(t, func(name string, args []string, stdin string) (string, string, int) {
		switch name {
		case chain.Binary:
			if args[0] == "keys" && args[1] == "list" {
				return `[]`, "", 0
			}
			if args[0] == "keys" && args[1] == "add" {
				importStdin = stdin
				return "key imported", "", 0
			}
		case "uplink":
			return "downloaded", "", 0
		case "tar":
			// Simulate the archive extraction: drop the backup record
			// into the -C directory.
			dir := args[len(args)-1]
			require.NoError(t, os.WriteFile(
				filepath.Join(dir, "testproj_akash-deploy-backup.json"), backup, 0o600))
			return "", "", 0
		}
		return "", "unexpected command", 1
	})

	require.NoError(t, w.Restore(context.Background()))
	require.Equal(t, "akash1restored", w.Address())
	require.Equal(t, "abandon ability able", importStdin)
	require.Contains(t, runner.calls, "uplink")
	require.Contains(t, runner.calls, "tar")
}

func TestRestoreFailsWithoutStorjSettings(t *testing.T) {
	w, _ := newTestWallet(t, func(string, []string, string) (string, string, int) {
		return `[]`, "", 0
	})
	w.cfg.StorjBucket = ""

	err := w.Restore(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "IWB_STORJ_WPOPS_BUCKET")
}

func TestBalanceParsesUAKT(t *testing.T) {
	w, _ := newTestWallet(t, func(_ string, args []string, _ string) (string, string, int) {
		return `{"balances": [
			{"denom": "ibc/1234", "amount": "99"},
			{"denom": "uakt", "amount": "2500000"}
		]}`, "", 0
	})
	w.address = "akash1abc"

	require.Equal(t, int64(2_500_000), w.Balance(context.Background()))
}

func TestBalanceZeroCases(t *testing.T) {
	w, _ := newTestWallet(t, func(string, []string, string) (string, string, int) {
		return `{"balances": []}`, "", 0
	})
	require.Zero(t, w.Balance(context.Background())) // no address yet

	w.address = "akash1abc"
	require.Zero(t, w.Balance(context.Background())) // no uakt entry
}

func TestCleanupRemovesKeyAndCertificate(t *testing.T) {
	w, runner := newTestWallet(t, func(_ string, args []string, _ string) (string, string, int) {
		require.Equal(t, "delete", args[1])
		return "", "", 0
	})
	w.address = "akash1abc"

	require.NoError(t, os.MkdirAll(w.cfg.CertDir(), 0o700))
	certFile := w.cfg.CertFile(w.address)
	require.NoError(t, os.WriteFile(certFile, []byte("pem"), 0o600))

	w.Cleanup(context.Background())
	require.Len(t, runner.calls, 1)
	_, err := os.Stat(certFile)
	require.True(t, os.IsNotExist(err))
}

func TestCertificateStatus(t *testing.T) {
	w, _ := newTestWallet(t, func(_ string, args []string, _ string) (string, string, int) {
		return `{"certificates": [{"certificate": {"state": "valid"}}]}`, "", 0
	})

	onChain, local := w.CertificateStatus(context.Background())
	require.False(t, onChain) // no address yet
	require.False(t, local)

	w.address = "akash1abc"
	onChain, local = w.CertificateStatus(context.Background())
	require.True(t, onChain)
	require.False(t, local)

	require.NoError(t, os.MkdirAll(w.cfg.CertDir(), 0o700))
	require.NoError(t, os.WriteFile(w.cfg.CertFile(w.address), []byte("pem"), 0o600))
	onChain, local = w.CertificateStatus(context.Background())
	require.True(t, onChain)
	require.True(t, local)
}
