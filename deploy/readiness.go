package deploy

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/state"
)

// ServiceInfo is the per-service slice of a status report.
type ServiceInfo struct {
	Name      string `json:"name"`
	Available int64  `json:"available"`
	Ready     int64  `json:"ready"`
	Status    string `json:"status"`
}

type statusReport struct {
	Status   string
	AllReady bool
	Services []ServiceInfo
	URIs     map[string][]string
	Raw      string
}

type leaseService struct {
	URIs              []string `json:"uris"`
	ReadyReplicas     *int64   `json:"ready_replicas"`
	Ready             *int64   `json:"ready"`
	AvailableReplicas *int64   `json:"available_replicas"`
	Available         *int64   `json:"available"`
	Total             *int64   `json:"total"`
}

func (s leaseService) readyCount() int64 {
	if s.ReadyReplicas != nil {
		return *s.ReadyReplicas
	}
	if s.Ready != nil {
		return *s.Ready
	}
	return 0
}

func (s leaseService) availableCount() int64 {
	for _, v := range []*int64{s.AvailableReplicas, s.Available, s.Total} {
		if v != nil {
			return *v
		}
	}
	return 0
}

type leaseStatusDoc struct {
	Services map[string]leaseService `json:"services"`
}

// checkServiceStatus queries the provider's lease-status and reports
// per-service readiness. All-ready means every declared service has at
// least one ready replica.
func (o *Orchestrator) checkServiceStatus(ctx context.Context, d *state.Deployment) (*statusReport, error) {
	if d.Provider == "" {
		return nil, xerrors.New("no provider information found in deployment state")
	}

	stdout, stderr, code := o.client.Provider(ctx, o.cfg.LogsTimeout.Std(),
		"lease-status",
		"--dseq", d.DSeq, "--gseq", d.GSeqValue(), "--oseq", d.OSeqValue(),
		"--provider", d.Provider,
	)
	if code != 0 {
		return nil, xerrors.Errorf("service status check failed: %s", stderr)
	}

	res := chain.Parse(stdout)
	if !res.Structured() {
		return &statusReport{Status: "unknown", Raw: stdout}, nil
	}
	var doc leaseStatusDoc
	if err := res.Decode(&doc); err != nil {
		return &statusReport{Status: "unknown", Raw: stdout}, nil
	}

	report := &statusReport{
		AllReady: true,
		URIs:     map[string][]string{},
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := doc.Services[name]
		ready := svc.readyCount()
		info := ServiceInfo{
			Name:      name,
			Available: svc.availableCount(),
			Ready:     ready,
			Status:    "starting",
		}
		if ready > 0 {
			info.Status = "ready"
		} else {
			report.AllReady = false
		}
		report.Services = append(report.Services, info)
		if len(svc.URIs) > 0 {
			report.URIs[name] = svc.URIs
		}
	}

	if report.AllReady && len(report.Services) > 0 {
		report.Status = "ready"
	} else {
		report.Status = "starting"
		report.AllReady = false
	}

	log.Infof("service status: %s", report.Status)
	for _, svc := range report.Services {
		log.Infof("  - %s: %d/%d ready", svc.Name, svc.Ready, svc.Available)
	}
	return report, nil
}

// modelsDownloaded scrapes the service logs for the marker indicating
// background asset downloads have finished. Service-ready without the
// marker keeps polling; the marker is the completion signal until the
// provider exposes a structured one.
func (o *Orchestrator) modelsDownloaded(ctx context.Context, d *state.Deployment) bool {
	logs, err := o.leaseLogs(ctx, d, false, 200)
	if err != nil {
		return false
	}
	switch {
	case strings.Contains(logs, "Watches established"),
		strings.Contains(strings.ToLower(logs), "watchers started"):
		log.Info("models downloaded and watchers established")
		return true
	case strings.Contains(logs, "Downloads complete"):
		log.Info("downloads complete, waiting for watchers")
		return false
	default:
		log.Debug("still downloading models")
		return false
	}
}

func (o *Orchestrator) leaseLogs(ctx context.Context, d *state.Deployment, follow bool, tail int) (string, error) {
	args := []string{
		"lease-logs",
		"--dseq", d.DSeq, "--gseq", d.GSeqValue(), "--oseq", d.OSeqValue(),
		"--provider", d.Provider,
	}
	if follow {
		args = append(args, "-f")
	} else {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	stdout, stderr, code := o.client.Provider(ctx, o.cfg.LogsTimeout.Std(), args...)
	if code != 0 {
		return "", xerrors.Errorf("fetching lease logs: %s", stderr)
	}
	return stdout, nil
}

// serviceURL picks the externally reachable URL: the first URI of the
// first service (names sorted for determinism), https-prefixed.
func (r *statusReport) serviceURL() string {
	names := make([]string, 0, len(r.URIs))
	for name := range r.URIs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if uris := r.URIs[name]; len(uris) > 0 {
			return "https://" + uris[0]
		}
	}
	return ""
}
