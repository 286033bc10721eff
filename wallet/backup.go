package wallet

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// backupRecord is the JSON document stored alongside the certificate
// in the Storj archive.
type backupRecord struct {
	Mnemonic   string `json:"mnemonic"`
	Address    string `json:"address"`
	WalletName string `json:"walletName"`
	Project    string `json:"project"`
	BackedUpAt string `json:"backedUpAt"`
}

// Backup exports the wallet and certificate to Storj so a later run on
// any host can restore them. Called after certificate creation so the
// archive always carries the current pem.
func (w *Wallet) Backup(ctx context.Context) error {
	log.Info("backing up wallet to Storj")
	if w.cfg.StorjBucket == "" || w.cfg.Domain == "" {
		return xerrors.New("missing Storj environment variables (IWB_STORJ_WPOPS_BUCKET, IWB_DOMAIN)")
	}

	mnemonic := w.mnemonic
	if mnemonic == "" {
		stdout, stderr, code := w.client.Keys(ctx, 30*time.Second, "",
			"keys", "export", w.cfg.WalletName, "--unsafe", "--unarmored-hex")
		if code != 0 {
			return xerrors.Errorf("exporting wallet key: %s", stderr)
		}
		mnemonic = strings.TrimSpace(stdout)
	}
	if mnemonic == "" {
		return xerrors.New("no key material available to back up")
	}

	tempDir, err := os.MkdirTemp("", "akash-backup-")
	if err != nil {
		return xerrors.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	record := backupRecord{
		Mnemonic:   mnemonic,
		Address:    w.address,
		WalletName: w.cfg.WalletName,
		Project:    w.cfg.Project,
		BackedUpAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return xerrors.Errorf("encoding backup record: %w", err)
	}
	backupFile := tempDir + "/" + w.cfg.Project + "_akash-deploy-backup.json"
	if err := os.WriteFile(backupFile, data, 0o600); err != nil {
		return xerrors.Errorf("writing backup record: %w", err)
	}

	files := []string{w.cfg.Project + "_akash-deploy-backup.json"}
	if w.address != "" {
		if pem, err := os.ReadFile(w.cfg.CertFile(w.address)); err == nil {
			pemName := w.address + ".pem"
			if err := os.WriteFile(tempDir+"/"+pemName, pem, 0o600); err == nil {
				files = append(files, pemName)
			}
		}
	}

	archive := w.cfg.Domain + "_akash_latest.tar.gz"
	tarArgs := append([]string{"-czf", tempDir + "/" + archive, "-C", tempDir}, files...)
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	_, stderr, code := w.runner.Run(cctx, "tar", tarArgs, "")
	cancel()
	if code != 0 {
		return xerrors.Errorf("creating backup archive: %s", stderr)
	}

	remote := "sj://" + w.cfg.StorjBucket + "/IWBDPP/akash/latest/" + archive
	cctx, cancel = context.WithTimeout(ctx, 60*time.Second)
	_, stderr, code = w.runner.Run(cctx, "uplink", []string{"cp", tempDir + "/" + archive, remote}, "")
	cancel()
	if code != 0 {
		return xerrors.Errorf("uploading backup to Storj: %s", stderr)
	}

	log.Info("wallet backup uploaded to Storj")
	return nil
}
