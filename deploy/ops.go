package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/state"
)

// Close tears down the deployment: close transaction, state clear,
// cost report. Wallet cleanup always runs afterwards, whatever the
// close itself did.
func (o *Orchestrator) Close(ctx context.Context, dseq string) *CloseResult {
	defer o.wallet.Cleanup(ctx)

	if dseq == "" {
		if err := o.wallet.Restore(ctx); err != nil {
			return &CloseResult{Error: "Wallet restoration failed"}
		}
		dep, ok := o.activeDeployment(ctx)
		if !ok {
			return &CloseResult{Error: "No active deployment found"}
		}
		dseq = dep.DSeq
	}

	log.Infof("closing deployment %s", dseq)
	stdout, _, err := o.client.Tx(ctx, "tx", "deployment", "close", "--dseq", dseq)
	if err != nil {
		return &CloseResult{Error: "Deployment closure failed"}
	}
	if cerr := o.store.Clear(); cerr != nil {
		log.Warnf("failed to clear state: %v", cerr)
	}

	feeAKT := closeTxFee(stdout)

	log.Info("waiting for blockchain confirmation")
	o.clk.Sleep(3 * time.Second)

	costAKT := o.leaseCost(ctx, dseq)
	o.notifyClosure(ctx, dseq, costAKT, feeAKT)

	return &CloseResult{
		Success: true,
		Message: fmt.Sprintf("Deployment %s closed", dseq),
		DSeq:    dseq,
	}
}

// closeTxFee extracts the uakt fee from the close transaction output,
// zero when it cannot be read.
func closeTxFee(stdout string) float64 {
	var doc struct {
		Tx struct {
			AuthInfo struct {
				Fee struct {
					Amount []struct {
						Denom  string `json:"denom"`
						Amount string `json:"amount"`
					} `json:"amount"`
				} `json:"fee"`
			} `json:"auth_info"`
		} `json:"tx"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return 0
	}
	for _, amt := range doc.Tx.AuthInfo.Fee.Amount {
		if amt.Denom == "uakt" {
			if v, err := strconv.ParseFloat(amt.Amount, 64); err == nil {
				return v / 1_000_000
			}
		}
	}
	return 0
}

// leaseCost queries the closed lease's escrow for the withdrawn
// amount, in AKT. Best-effort.
func (o *Orchestrator) leaseCost(ctx context.Context, dseq string) float64 {
	log.Info("querying lease for actual cost")
	res, err := o.client.Query(ctx,
		"query", "market", "lease", "list", "--owner", o.wallet.Address(), "--dseq", dseq)
	if err != nil || !res.Structured() {
		log.Warn("could not query lease cost")
		return 0
	}
	var doc leaseListDoc
	if err := res.Decode(&doc); err != nil || len(doc.Leases) == 0 {
		log.Warn("no lease information found")
		return 0
	}

	withdrawn := doc.Leases[0].EscrowPayment.Withdrawn
	var uakt float64
	var coinDoc struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(withdrawn, &coinDoc); err == nil && coinDoc.Amount != "" {
		uakt, _ = strconv.ParseFloat(coinDoc.Amount, 64)
	} else {
		var scalar string
		if err := json.Unmarshal(withdrawn, &scalar); err == nil {
			uakt, _ = strconv.ParseFloat(scalar, 64)
		} else {
			_ = json.Unmarshal(withdrawn, &uakt)
		}
	}

	cost := uakt / 1_000_000
	log.Infof("lease cost: %.6f AKT", cost)
	return cost
}

func (o *Orchestrator) notifyClosure(ctx context.Context, dseq string, costAKT, feeAKT float64) {
	totalAKT := costAKT + feeAKT

	usdInfo := "- USD conversion: Not available (API unavailable)"
	if price, ok := o.notifier.AKTPrice(ctx); ok {
		usdInfo = fmt.Sprintf(`- Lease Cost: $%.2f USD
- Transaction Fee: $%.2f USD
- Total Cost: $%.2f USD
- AKT/USD Rate: $%.2f`, costAKT*price, feeAKT*price, totalAKT*price, price)
	}

	subject := fmt.Sprintf("Akash Deployment %s Closed - Cost Report", dseq)
	body := fmt.Sprintf(`Deployment Closure Report

DSEQ: %s
Closed: %s

Cost Analysis:
- Lease Cost: %.6f AKT
- Transaction Fee: %.6f AKT
- Total Cost: %.6f AKT

%s

Deployment closed and wallet cleaned up.
`, dseq, time.Now().UTC().Format(time.RFC3339), costAKT, feeAKT, totalAKT, usdInfo)
	o.notifier.Send(subject, body)
}

// Status reports current lease/service state for the active
// deployment.
func (o *Orchestrator) Status(ctx context.Context) *StatusResult {
	if err := o.wallet.Restore(ctx); err != nil {
		return &StatusResult{Error: "Wallet restoration failed"}
	}
	dep, ok := o.activeDeployment(ctx)
	if !ok {
		return &StatusResult{Error: "No active deployment found"}
	}
	if dep.Provider == "" {
		return &StatusResult{Error: "Provider not found"}
	}

	report, err := o.checkServiceStatus(ctx, dep)
	if err != nil {
		return &StatusResult{
			DSeq:     dep.DSeq,
			Provider: dep.Provider,
			Error:    err.Error(),
		}
	}
	return &StatusResult{
		Success:  true,
		DSeq:     dep.DSeq,
		Provider: dep.Provider,
		Status:   report.Status,
		Services: report.Services,
		AllReady: report.AllReady,
	}
}

// Logs fetches (or follows) the service logs of the active deployment.
func (o *Orchestrator) Logs(ctx context.Context, follow bool, tail int) *LogsResult {
	if err := o.wallet.Restore(ctx); err != nil {
		return &LogsResult{Error: "Wallet restoration failed"}
	}
	dep, ok := o.activeDeployment(ctx)
	if !ok || dep.DSeq == "" || dep.Provider == "" {
		return &LogsResult{Error: "No active deployment found"}
	}

	logs, err := o.leaseLogs(ctx, dep, follow, tail)
	if err != nil {
		return &LogsResult{DSeq: dep.DSeq, Provider: dep.Provider, Error: err.Error()}
	}
	return &LogsResult{Success: true, DSeq: dep.DSeq, Provider: dep.Provider, Logs: logs}
}

// Shell attaches an interactive shell to the named service. The child
// inherits our standard streams and we block until it exits,
// propagating its exit code; the parent stays alive as a thin
// supervisor.
func (o *Orchestrator) Shell(ctx context.Context, service string) (int, error) {
	if err := o.wallet.Restore(ctx); err != nil {
		return 1, xerrors.New("Wallet restoration failed")
	}
	dep, ok := o.activeDeployment(ctx)
	if !ok || dep.DSeq == "" || dep.Provider == "" {
		return 1, xerrors.New("No active deployment found")
	}

	log.Infof("opening interactive shell for deployment %s (service %s)", dep.DSeq, service)

	argv := o.client.ProviderArgv(
		"lease-shell",
		"--dseq", dep.DSeq, "--gseq", dep.GSeqValue(), "--oseq", dep.OSeqValue(),
		"--provider", dep.Provider,
		"--tty", "--stdin",
		service, "/bin/bash")

	cmd := exec.CommandContext(ctx, chain.Binary, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}

// DryRun validates wallet, balance, certificate and RPC selection
// without submitting anything. Wallet cleanup always runs afterwards.
func (o *Orchestrator) DryRun(ctx context.Context) *DryRunResult {
	log.Info("dry run - validating configuration")
	defer o.wallet.Cleanup(ctx)

	if err := o.wallet.Restore(ctx); err != nil {
		return &DryRunResult{
			Message: "Configuration validation failed",
			Error:   "Wallet restoration failed",
			Checks: map[string]bool{
				"wallet": false, "balance": false, "certificate": false, "rpc_node": false,
			},
		}
	}

	balance := o.wallet.Balance(ctx)
	onChain, local := o.wallet.CertificateStatus(ctx)
	if onChain && !local {
		log.Info("local certificate file will be regenerated from on-chain certificate during deployment")
	}

	checks := map[string]bool{
		"wallet":               true,
		"balance":              balance > o.cfg.MinBalance,
		"certificate":          onChain,
		"certificate_on_chain": onChain,
		"certificate_local":    local,
		"rpc_node":             o.client.Endpoint() != "",
	}
	success := true
	for _, ok := range checks {
		success = success && ok
	}

	message := "Configuration validated successfully (dry-run)"
	if !success {
		message = "Configuration issues found"
	}

	return &DryRunResult{
		Success:     success,
		Message:     message,
		Deployment:  &state.Deployment{Owner: o.wallet.Address()},
		Lease:       &LeaseInfo{},
		Credentials: &state.Credentials{},
		Checks:      checks,
		Cost: &CostEstimate{
			EstimatedAKT: 0.5,
			BalanceAKT:   float64(balance) / 1_000_000,
			Sufficient:   checks["balance"],
		},
	}
}
