package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
	"github.com/iwb/akash-deploy/state"
)

var log = logging.Logger("deploy")

// ChainAPI is the slice of the chain client the orchestrator uses.
type ChainAPI interface {
	Query(ctx context.Context, args ...string) (chain.Result, error)
	Tx(ctx context.Context, args ...string) (stdout, stderr string, err error)
	Provider(ctx context.Context, timeout time.Duration, args ...string) (stdout, stderr string, code int)
	ProviderArgv(args ...string) []string
	Endpoint() string
}

// WalletAPI covers wallet restore, balance, certificate and cleanup.
type WalletAPI interface {
	Restore(ctx context.Context) error
	Address() string
	Balance(ctx context.Context) int64
	EnsureCertificate(ctx context.Context) error
	CertificateStatus(ctx context.Context) (onChain, local bool)
	Cleanup(ctx context.Context)
}

// Notifier sends best-effort operator notifications.
type Notifier interface {
	Send(subject, body string)
	AKTPrice(ctx context.Context) (float64, bool)
}

// Orchestrator drives the deployment lifecycle end to end. Single
// instance, single-threaded: transitions for one deployment never run
// concurrently.
type Orchestrator struct {
	cfg      *config.Config
	client   ChainAPI
	wallet   WalletAPI
	store    *state.Store
	notifier Notifier
	clk      clock.Clock
	manifest Manifest
}

func New(cfg *config.Config, client ChainAPI, w WalletAPI, store *state.Store, n Notifier, manifest Manifest) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		wallet:   w,
		store:    store,
		notifier: n,
		clk:      clock.New(),
		manifest: manifest,
	}
}

// Run executes the full workflow: restore wallet, resume or create a
// deployment, wait for bids, lease, deliver the manifest and wait for
// readiness. Always returns a single envelope; it does not panic
// through the caller boundary.
func (o *Orchestrator) Run(ctx context.Context) *RunResult {
	runID := uuid.NewString()[:8]
	log.Infof("starting deployment run %s", runID)

	if err := o.wallet.Restore(ctx); err != nil {
		log.Errorf("wallet restoration failed: %v", err)
		return runFailure("Wallet restoration failed", nil, nil)
	}

	m := newMachine()

	if dep, ok := o.activeDeployment(ctx); ok {
		return o.resume(ctx, m, dep)
	}

	balance := o.wallet.Balance(ctx)
	if balance < o.cfg.MinBalance {
		log.Errorf("balance %s uakt below minimum %s", humanize.Comma(balance), humanize.Comma(o.cfg.MinBalance))
		return runFailure("Insufficient balance", nil, nil)
	}

	if err := o.wallet.EnsureCertificate(ctx); err != nil {
		log.Errorf("certificate setup failed: %v", err)
		return runFailure("Certificate setup failed", nil, nil)
	}

	dep, err := o.createDeployment(ctx)
	if err != nil {
		return runFailure(err.Error(), nil, nil)
	}
	_ = m.to(Created)

	bids, err := o.waitForBids(ctx, dep.DSeq)
	if err != nil {
		// State is preserved: a bid timeout means "not yet", the
		// deployment can still be leased manually or retried.
		return runFailure(err.Error(), dep, nil)
	}
	_ = m.to(BidsOpen)

	best := o.selectBestBid(ctx, bids)
	if best == nil {
		return runFailure("No usable bid received", dep, nil)
	}

	lease, err := o.createLease(ctx, dep, best)
	if err != nil {
		return runFailure(err.Error(), dep, nil)
	}
	_ = m.to(Leased)

	if err := o.sendManifest(ctx, dep); err != nil {
		return runFailure(fmt.Sprintf("Manifest send failed: %v", err), dep, lease)
	}
	_ = m.to(ManifestSent)

	serviceURL, err := o.waitForReady(ctx, m, dep)
	if err != nil {
		return runFailure("Service failed to become ready", dep, lease)
	}

	creds := generateCredentials(serviceURL)
	dep.ServiceURL = serviceURL
	dep.Credentials = creds
	dep.Status = "ready"
	if err := o.store.Save(dep); err != nil {
		log.Warnf("failed to persist final state: %v", err)
	}

	o.notifySuccess(dep, serviceURL, creds)

	return &RunResult{
		Success:     true,
		Message:     "ComfyUI deployment successful",
		Deployment:  dep,
		Lease:       lease,
		ServiceURL:  serviceURL,
		Credentials: creds,
	}
}

// resume short-circuits the machine when a verified active deployment
// already exists: same record in, same record out, no transaction
// submitted.
func (o *Orchestrator) resume(ctx context.Context, m *machine, dep *state.Deployment) *RunResult {
	log.Infof("using existing active deployment: DSEQ %s", dep.DSeq)

	target := Leased
	if dep.Status == "ready" || dep.ServiceURL != "" {
		target = Ready
	}
	_ = m.to(target)

	serviceURL := dep.ServiceURL
	if serviceURL == "" {
		if report, err := o.checkServiceStatus(ctx, dep); err == nil {
			serviceURL = report.serviceURL()
		}
		if serviceURL != "" {
			dep.ServiceURL = serviceURL
			if err := o.store.Save(dep); err != nil {
				log.Warnf("failed to persist service URL: %v", err)
			}
		}
	}

	creds := dep.Credentials
	switch {
	case creds == nil:
		creds = generateCredentials(serviceURL)
		dep.Credentials = creds
		_ = o.store.Save(dep)
	case creds.APIURL == placeholderURL && serviceURL != "":
		creds.APIURL = serviceURL
		dep.Credentials = creds
		_ = o.store.Save(dep)
	}

	return &RunResult{
		Success:     true,
		Message:     fmt.Sprintf("Using existing active deployment: DSEQ %s", dep.DSeq),
		Deployment:  dep,
		Lease:       leaseFromDeployment(dep),
		ServiceURL:  serviceURL,
		Credentials: creds,
	}
}

type deploymentBody struct {
	DeploymentID struct {
		Owner string `json:"owner"`
		DSeq  seq    `json:"dseq"`
	} `json:"deployment_id"`
	State string `json:"state"`
}

// decodeDeploymentBody handles both response nestings seen in the
// wild: deployment.deployment and plain deployment.
func decodeDeploymentBody(raw json.RawMessage) (*deploymentBody, bool) {
	var nested struct {
		Deployment *deploymentBody `json:"deployment"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Deployment != nil && nested.Deployment.State != "" {
		return nested.Deployment, true
	}
	var flat deploymentBody
	if err := json.Unmarshal(raw, &flat); err == nil && flat.State != "" {
		return &flat, true
	}
	return nil, false
}

// activeDeployment is the resume check: re-validate persisted state
// against the chain, or discover an active deployment the state file
// lost track of. Stale or unverifiable local state is cleared.
func (o *Orchestrator) activeDeployment(ctx context.Context) (*state.Deployment, bool) {
	if dep := o.store.Load(); dep != nil && dep.DSeq != "" {
		owner := dep.Owner
		if owner == "" {
			owner = o.wallet.Address()
		}
		res, err := o.client.Query(ctx, "query", "deployment", "get", "--dseq", dep.DSeq, "--owner", owner)
		if err == nil && res.Structured() {
			var doc struct {
				Deployment json.RawMessage `json:"deployment"`
			}
			if derr := res.Decode(&doc); derr == nil {
				if body, ok := decodeDeploymentBody(doc.Deployment); ok && body.State == "active" {
					log.Infof("verified active deployment from state file: DSEQ %s", dep.DSeq)
					return dep, true
				}
			}
		}
		log.Infof("deployment %s from state file is no longer active, clearing state", dep.DSeq)
		_ = o.store.Clear()
	}

	log.Info("no valid local state, querying blockchain for active deployments")
	owner := o.wallet.Address()
	if owner == "" {
		return nil, false
	}

	res, err := o.client.Query(ctx, "query", "deployment", "list", "--owner", owner)
	if err != nil || !res.Structured() {
		log.Debug("failed to query deployments from blockchain")
		return nil, false
	}
	var doc struct {
		Deployments []json.RawMessage `json:"deployments"`
	}
	if err := res.Decode(&doc); err != nil {
		return nil, false
	}

	var active []*deploymentBody
	for _, raw := range doc.Deployments {
		if body, ok := decodeDeploymentBody(raw); ok && body.State == "active" && body.DeploymentID.DSeq != "" {
			active = append(active, body)
		}
	}
	switch len(active) {
	case 0:
		log.Debug("no active deployments found on blockchain")
		return nil, false
	case 1:
	default:
		log.Warnf("found %d active deployments for this wallet, refusing to adopt one", len(active))
		return nil, false
	}

	dseq := active[0].DeploymentID.DSeq.String()
	log.Infof("found active deployment on blockchain: DSEQ %s", dseq)

	dep := &state.Deployment{
		DSeq:         dseq,
		Owner:        owner,
		ManifestPath: o.manifest.Path,
	}
	if lease := o.leaseInfoFor(ctx, dseq); lease != nil {
		dep.Provider = lease.Provider
		dep.GSeq = lease.GSeq
		dep.OSeq = lease.OSeq
	}
	if err := o.store.Save(dep); err != nil {
		log.Warnf("failed to persist rediscovered deployment: %v", err)
	}
	return dep, true
}

type leaseListDoc struct {
	Leases []struct {
		Lease struct {
			LeaseID struct {
				Provider string `json:"provider"`
				DSeq     seq    `json:"dseq"`
				GSeq     seq    `json:"gseq"`
				OSeq     seq    `json:"oseq"`
			} `json:"lease_id"`
			State string `json:"state"`
		} `json:"lease"`
		EscrowPayment struct {
			Withdrawn json.RawMessage `json:"withdrawn"`
		} `json:"escrow_payment"`
	} `json:"leases"`
}

// leaseInfoFor recovers provider and sequence info for a deployment
// whose lease exists on-chain but not in local state.
func (o *Orchestrator) leaseInfoFor(ctx context.Context, dseq string) *LeaseInfo {
	res, err := o.client.Query(ctx, "query", "market", "lease", "list", "--owner", o.wallet.Address())
	if err != nil || !res.Structured() {
		return nil
	}
	var doc leaseListDoc
	if err := res.Decode(&doc); err != nil {
		return nil
	}
	for _, entry := range doc.Leases {
		id := entry.Lease.LeaseID
		if id.DSeq.String() == dseq && entry.Lease.State == "active" {
			return &LeaseInfo{
				Provider: id.Provider,
				DSeq:     dseq,
				GSeq:     id.GSeq.String(),
				OSeq:     id.OSeq.String(),
				Status:   "active",
			}
		}
	}
	log.Debugf("no active lease found for deployment %s", dseq)
	return nil
}

// createDeployment submits the deployment transaction and recovers the
// new dseq from its output. Parse exhaustion is fatal here.
func (o *Orchestrator) createDeployment(ctx context.Context) (*state.Deployment, error) {
	log.Info("creating deployment")

	arg, err := o.manifest.Argument()
	if err != nil {
		return nil, xerrors.Errorf("Deployment creation failed: %w", err)
	}

	stdout, stderr, err := o.client.Tx(ctx, "tx", "deployment", "create", arg)
	if err != nil {
		return nil, xerrors.Errorf("Deployment creation failed: %s", stderr)
	}

	dseq, ok := extractDSeq(stdout)
	if !ok {
		log.Errorf("failed to parse DSEQ from output: %s", stdout)
		return nil, xerrors.Errorf("Failed to parse deployment output. Raw output: %s", stdout)
	}

	log.Infof("deployment created with DSEQ: %s", dseq)
	dep := &state.Deployment{
		DSeq:         dseq,
		Owner:        o.wallet.Address(),
		ManifestPath: o.manifest.Path,
	}
	if err := o.store.Save(dep); err != nil {
		log.Warnf("failed to save state: %v", err)
	}
	return dep, nil
}

// waitForBids polls for open bids until the budget runs out. Query
// failures retry on the next tick; every third consecutive failure
// also tries a relaxed query without the state filter.
func (o *Orchestrator) waitForBids(ctx context.Context, dseq string) ([]bidEntry, error) {
	log.Infof("waiting for bids for deployment %s", dseq)

	res, err := o.client.Query(ctx, "query", "deployment", "get", "--dseq", dseq, "--owner", o.wallet.Address())
	if err == nil && res.Structured() {
		var doc struct {
			Deployment json.RawMessage `json:"deployment"`
		}
		if derr := res.Decode(&doc); derr == nil {
			if body, ok := decodeDeploymentBody(doc.Deployment); ok {
				log.Infof("deployment state: %s", body.State)
				if body.State != "active" {
					log.Warnf("deployment state is %q - may not be accepting bids", body.State)
				}
			}
		}
	} else {
		log.Warn("could not check deployment status before bid wait")
	}

	deadline := o.clk.Now().Add(o.cfg.BidTimeout.Std())
	checks := 0
	failures := 0

	for o.clk.Now().Before(deadline) {
		checks++

		res, err := o.client.Query(ctx,
			"query", "market", "bid", "list",
			"--dseq", dseq, "--owner", o.wallet.Address(), "--state", "open")
		if err == nil && res.Structured() {
			var doc bidList
			if derr := res.Decode(&doc); derr == nil && len(doc.Bids) > 0 {
				log.Infof("received %d open bids for DSEQ %s", len(doc.Bids), dseq)
				return doc.Bids, nil
			}
			log.Debugf("no open bids yet for DSEQ %s", dseq)
		} else {
			failures++
			log.Debugf("bid query failed on %s (attempt %d)", o.client.Endpoint(), checks)

			if failures%3 == 0 {
				log.Debug("trying bid query without state filter as fallback")
				if bids := o.relaxedBidQuery(ctx, dseq); len(bids) > 0 {
					log.Infof("found %d open bids via fallback query", len(bids))
					return bids, nil
				}
			}
		}

		if checks%6 == 0 {
			log.Infof("still waiting for bids... (%d checks)", checks)
		}
		o.clk.Sleep(o.cfg.BidInterval.Std())
	}

	log.Warnf("no bids received within %s", o.cfg.BidTimeout.Std())
	return nil, xerrors.New("No bids received")
}

func (o *Orchestrator) relaxedBidQuery(ctx context.Context, dseq string) []bidEntry {
	res, err := o.client.Query(ctx,
		"query", "market", "bid", "list", "--dseq", dseq, "--owner", o.wallet.Address())
	if err != nil || !res.Structured() {
		return nil
	}
	var doc bidList
	if err := res.Decode(&doc); err != nil {
		return nil
	}
	var open []bidEntry
	for _, b := range doc.Bids {
		if b.Bid.State == "open" {
			open = append(open, b)
		}
	}
	return open
}

// createLease submits the lease transaction for the winning bid and
// merges the lease identity into persisted state. Provider, gseq and
// oseq are written here exactly once.
func (o *Orchestrator) createLease(ctx context.Context, dep *state.Deployment, bid *bidEntry) (*LeaseInfo, error) {
	id := bid.Bid.BidID
	log.Infof("creating lease with provider %s", id.Provider)

	_, stderr, err := o.client.Tx(ctx,
		"tx", "market", "lease", "create",
		"--dseq", dep.DSeq, "--gseq", id.GSeq.String(), "--oseq", id.OSeq.String(),
		"--provider", id.Provider)
	if err != nil {
		return nil, xerrors.Errorf("Lease creation failed: %s", stderr)
	}

	dep.Provider = id.Provider
	dep.GSeq = id.GSeq.String()
	dep.OSeq = id.OSeq.String()
	if err := o.store.Save(dep); err != nil {
		log.Warnf("failed to persist lease info: %v", err)
	}

	log.Info("lease created successfully")
	return &LeaseInfo{
		Provider: id.Provider,
		DSeq:     dep.DSeq,
		GSeq:     dep.GSeq,
		OSeq:     dep.OSeq,
		Status:   "active",
	}, nil
}

// sendManifest delivers the workload spec directly to the provider.
// Not a chain transaction.
func (o *Orchestrator) sendManifest(ctx context.Context, dep *state.Deployment) error {
	arg, err := o.manifest.Argument()
	if err != nil {
		return err
	}
	log.Infof("sending manifest to provider %s", dep.Provider)

	_, stderr, code := o.client.Provider(ctx, o.cfg.ManifestTimeout.Std(),
		"send-manifest", arg,
		"--dseq", dep.DSeq, "--gseq", dep.GSeqValue(), "--oseq", dep.OSeqValue(),
		"--provider", dep.Provider)
	if code != 0 {
		return xerrors.Errorf("%s", stderr)
	}
	log.Info("manifest sent successfully to provider")
	return nil
}

// waitForReady polls service status until every service has a ready
// replica AND the logs carry the asset-download completion marker.
// Ready services without the marker keep polling.
func (o *Orchestrator) waitForReady(ctx context.Context, m *machine, dep *state.Deployment) (string, error) {
	log.Info("waiting for deployment to become ready")
	_ = m.to(ServicesStarting)

	deadline := o.clk.Now().Add(o.cfg.ReadyTimeout.Std())
	for o.clk.Now().Before(deadline) {
		report, err := o.checkServiceStatus(ctx, dep)
		switch {
		case err != nil:
			log.Warnf("service status check failed: %v", err)
		case report.AllReady:
			if m.state == ServicesStarting {
				_ = m.to(ModelsDownloading)
			}
			if o.modelsDownloaded(ctx, dep) {
				url := report.serviceURL()
				if url == "" {
					log.Warn("services ready but no URIs found")
					return "", xerrors.New("services ready but no URIs found")
				}
				_ = m.to(Ready)
				log.Infof("deployment is fully ready, service URL: %s", url)
				return url, nil
			}
			log.Info("services ready, waiting for model downloads")
		default:
			log.Infof("services starting... (%s)", report.Status)
		}
		o.clk.Sleep(o.cfg.ReadyInterval.Std())
	}

	return "", xerrors.Errorf("deployment failed to become ready within %s", o.cfg.ReadyTimeout.Std())
}

func (o *Orchestrator) notifySuccess(dep *state.Deployment, serviceURL string, creds *state.Credentials) {
	subject := fmt.Sprintf("Akash Deployment %s Created Successfully", dep.DSeq)
	body := fmt.Sprintf(`ComfyUI Deployment Created

DSEQ: %s
Provider: %s
Service URL: %s
Time: %s

API Credentials:
- Username: %s
- Password: %s

The deployment is ready to use.
`, dep.DSeq, dep.Provider, serviceURL, time.Now().UTC().Format(time.RFC3339), creds.Username, creds.Password)
	o.notifier.Send(subject, body)
}
