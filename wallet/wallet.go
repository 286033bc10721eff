package wallet

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
)

var log = logging.Logger("wallet")

// Wallet manages the deployment wallet's keyring lifecycle: restore
// from backup at the start of an operation, cleanup at the end. The
// keyring never outlives the operation that needed it.
type Wallet struct {
	cfg    *config.Config
	client *chain.Client
	runner chain.Runner

	address  string
	mnemonic string
}

func New(cfg *config.Config, client *chain.Client, runner chain.Runner) *Wallet {
	return &Wallet{cfg: cfg, client: client, runner: runner}
}

// Address returns the wallet address, known after Restore.
func (w *Wallet) Address() string {
	return w.address
}

type keyInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Restore makes the wallet available in the keyring: reuse it when it
// is already there, otherwise pull the backup from object storage and
// import the mnemonic.
func (w *Wallet) Restore(ctx context.Context) error {
	log.Info("restoring wallet from backup")

	res, err := w.client.Query(ctx, "keys", "list", "--output", "json")
	if err == nil && res.Structured() {
		var keys []keyInfo
		if derr := res.Decode(&keys); derr == nil {
			for _, key := range keys {
				if key.Name == w.cfg.WalletName {
					w.address = key.Address
					log.Infof("wallet already exists: %s", w.address)
					return nil
				}
			}
		}
	}

	log.Info("wallet not found in keyring, restoring from Storj backup")
	if w.cfg.StorjBucket == "" || w.cfg.Domain == "" {
		return xerrors.New("missing Storj environment variables (IWB_STORJ_WPOPS_BUCKET, IWB_DOMAIN)")
	}

	tempDir, err := os.MkdirTemp("", "akash-restore-")
	if err != nil {
		return xerrors.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	archive := w.cfg.Domain + "_akash_latest.tar.gz"
	remote := "sj://" + w.cfg.StorjBucket + "/IWBDPP/akash/latest/" + archive

	cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	_, stderr, code := w.runner.Run(cctx, "uplink", []string{"cp", remote, tempDir + "/" + archive}, "")
	cancel()
	if code != 0 {
		return xerrors.Errorf("downloading backup from Storj: %s", stderr)
	}

	cctx, cancel = context.WithTimeout(ctx, 30*time.Second)
	_, stderr, code = w.runner.Run(cctx, "tar", []string{"-xzf", tempDir + "/" + archive, "-C", tempDir}, "")
	cancel()
	if code != 0 {
		return xerrors.Errorf("extracting backup: %s", stderr)
	}

	backupFile := tempDir + "/" + w.cfg.Project + "_akash-deploy-backup.json"
	data, err := os.ReadFile(backupFile)
	if err != nil {
		return xerrors.Errorf("reading wallet backup: %w", err)
	}
	var backup backupRecord
	if err := json.Unmarshal(data, &backup); err != nil {
		return xerrors.Errorf("parsing wallet backup: %w", err)
	}
	if backup.Mnemonic == "" {
		return xerrors.New("no mnemonic found in backup file")
	}
	w.mnemonic = backup.Mnemonic

	log.Info("importing wallet into keyring")
	_, stderr, code = w.client.Keys(ctx, 30*time.Second, backup.Mnemonic,
		"keys", "add", w.cfg.WalletName, "--recover", "--interactive=false")
	if code != 0 {
		return xerrors.Errorf("wallet import failed: %s", stderr)
	}

	w.address = backup.Address
	if w.address == "" {
		res, err := w.client.Query(ctx, "keys", "show", w.cfg.WalletName, "--output", "json")
		if err == nil && res.Structured() {
			var key keyInfo
			if derr := res.Decode(&key); derr == nil {
				w.address = key.Address
			}
		}
	}

	w.restoreCertFile(tempDir)

	log.Infof("wallet restored successfully: %s", w.address)
	return nil
}

// restoreCertFile copies the client certificate out of the backup when
// the backup carried one.
func (w *Wallet) restoreCertFile(tempDir string) {
	if w.address == "" {
		return
	}
	pem, err := os.ReadFile(tempDir + "/" + w.address + ".pem")
	if err != nil {
		log.Debugf("no certificate file found in backup: %v", err)
		return
	}
	if err := os.MkdirAll(w.cfg.CertDir(), 0o700); err != nil {
		log.Warnf("creating certificate dir: %v", err)
		return
	}
	if err := os.WriteFile(w.cfg.CertFile(w.address), pem, 0o600); err != nil {
		log.Warnf("restoring certificate file: %v", err)
		return
	}
	log.Info("certificate file restored from backup")
}

type balanceDoc struct {
	Balances []struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"balances"`
}

// Balance returns the wallet's uakt balance, zero when it cannot be
// determined.
func (w *Wallet) Balance(ctx context.Context) int64 {
	if w.address == "" {
		return 0
	}
	res, err := w.client.Query(ctx, "query", "bank", "balances", w.address)
	if err != nil || !res.Structured() {
		log.Errorf("failed to get balance: %v", err)
		return 0
	}
	var doc balanceDoc
	if err := res.Decode(&doc); err != nil {
		return 0
	}
	for _, b := range doc.Balances {
		if b.Denom == "uakt" {
			amount, _ := strconv.ParseInt(b.Amount, 10, 64)
			log.Infof("balance: %s uakt (%.2f AKT)", humanize.Comma(amount), float64(amount)/1_000_000)
			return amount
		}
	}
	log.Info("balance: 0.00 AKT (no uakt balance found)")
	return 0
}

// Cleanup removes the wallet from the keyring and deletes the local
// certificate file. Best-effort; failures are logged, never raised.
func (w *Wallet) Cleanup(ctx context.Context) {
	log.Info("cleaning up wallet from keyring")

	var errs error
	_, stderr, code := w.client.Keys(ctx, 10*time.Second, "",
		"keys", "delete", w.cfg.WalletName, "--yes")
	if code != 0 {
		errs = multierror.Append(errs, xerrors.Errorf("keyring delete: %s", stderr))
	}

	if w.address != "" {
		if err := os.Remove(w.cfg.CertFile(w.address)); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, xerrors.Errorf("removing certificate: %w", err))
		}
	}

	if errs != nil {
		log.Warnf("wallet cleanup incomplete: %v", errs)
		return
	}
	log.Info("wallet cleaned from keyring")
}
