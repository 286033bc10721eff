package deploy

import (
	"github.com/iwb/akash-deploy/state"
)

// LeaseInfo describes the lease struck with the winning provider.
type LeaseInfo struct {
	Provider string `json:"provider"`
	DSeq     string `json:"dseq"`
	GSeq     string `json:"gseq"`
	OSeq     string `json:"oseq"`
	Status   string `json:"status"`
}

func leaseFromDeployment(d *state.Deployment) *LeaseInfo {
	if d == nil || d.Provider == "" {
		return nil
	}
	return &LeaseInfo{
		Provider: d.Provider,
		DSeq:     d.DSeq,
		GSeq:     d.GSeqValue(),
		OSeq:     d.OSeqValue(),
		Status:   "active",
	}
}

// RunResult is the single JSON envelope a deployment run produces.
// Null fields are kept so consumers always see the full shape.
type RunResult struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Error       string             `json:"error,omitempty"`
	Deployment  *state.Deployment  `json:"deployment_info"`
	Lease       *LeaseInfo         `json:"lease_info"`
	ServiceURL  string             `json:"service_url"`
	Credentials *state.Credentials `json:"api_credentials"`
}

func runFailure(errMsg string, dep *state.Deployment, lease *LeaseInfo) *RunResult {
	return &RunResult{
		Success:    false,
		Message:    "Deployment failed",
		Error:      errMsg,
		Deployment: dep,
		Lease:      lease,
	}
}

type CloseResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	DSeq    string `json:"dseq,omitempty"`
}

type StatusResult struct {
	Success  bool          `json:"success"`
	DSeq     string        `json:"dseq,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Status   string        `json:"status,omitempty"`
	Services []ServiceInfo `json:"services"`
	AllReady bool          `json:"all_ready"`
	Error    string        `json:"error,omitempty"`
}

type LogsResult struct {
	Success  bool   `json:"success"`
	DSeq     string `json:"dseq,omitempty"`
	Provider string `json:"provider,omitempty"`
	Logs     string `json:"logs,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CostEstimate struct {
	EstimatedAKT float64 `json:"estimated_cost_akt"`
	BalanceAKT   float64 `json:"current_balance_akt"`
	Sufficient   bool    `json:"sufficient_funds"`
}

// DryRunResult mirrors the production envelope shape, with placeholder
// deployment fields and the validation checklist filled in.
type DryRunResult struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Error       string             `json:"error,omitempty"`
	Deployment  *state.Deployment  `json:"deployment_info"`
	Lease       *LeaseInfo         `json:"lease_info"`
	ServiceURL  string             `json:"service_url"`
	Credentials *state.Credentials `json:"api_credentials"`
	Checks      map[string]bool    `json:"validation_results"`
	Cost        *CostEstimate      `json:"cost_estimate,omitempty"`
}

// RPCInfo reports the endpoint selection for the rpc-info operation.
type RPCInfo struct {
	SelectedNode   string   `json:"selected_node"`
	AvailableNodes []string `json:"available_nodes"`
}
