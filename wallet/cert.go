package wallet

import (
	"context"
	"os"

	"golang.org/x/xerrors"
)

type certListDoc struct {
	Certificates []struct {
		Certificate struct {
			State string `json:"state"`
		} `json:"certificate"`
	} `json:"certificates"`
}

// CertificateStatus reports whether a valid client certificate exists
// on chain and whether its private key file is present locally.
func (w *Wallet) CertificateStatus(ctx context.Context) (onChain, local bool) {
	if w.address == "" {
		return false, false
	}

	res, err := w.client.Query(ctx,
		"query", "cert", "list", "--owner", w.address, "--state", "valid")
	if err == nil && res.Structured() {
		var doc certListDoc
		if derr := res.Decode(&doc); derr == nil && len(doc.Certificates) > 0 {
			onChain = true
		}
	}

	if _, serr := os.Stat(w.cfg.CertFile(w.address)); serr == nil {
		local = true
	}
	return onChain, local
}

// EnsureCertificate makes mTLS communication with providers possible:
// a valid certificate on chain plus its key material on disk. Missing
// pieces are created; an existing valid pair is left alone.
func (w *Wallet) EnsureCertificate(ctx context.Context) error {
	log.Info("checking client certificate")

	onChain, local := w.CertificateStatus(ctx)
	if onChain && local {
		log.Info("valid certificate found")
		return nil
	}

	if onChain && !local {
		// The chain has our certificate but this host lost the key
		// file. Regenerating locally produces a fresh pair that the
		// publish below registers.
		log.Warn("certificate on chain but local file missing, regenerating")
	}

	log.Info("generating client certificate")
	if _, stderr, err := w.client.Tx(ctx, "tx", "cert", "generate", "client", "--overwrite"); err != nil {
		return xerrors.Errorf("certificate generation failed: %s", stderr)
	}

	log.Info("publishing client certificate")
	if _, stderr, err := w.client.Tx(ctx, "tx", "cert", "publish", "client"); err != nil {
		return xerrors.Errorf("certificate publish failed: %s", stderr)
	}

	if err := w.Backup(ctx); err != nil {
		log.Warnf("wallet backup after certificate creation failed: %v", err)
	}

	log.Info("client certificate ready")
	return nil
}
