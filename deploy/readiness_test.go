package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iwb/akash-deploy/state"
)

func testDeployment() *state.Deployment {
	return &state.Deployment{
		DSeq:     "1234567",
		Owner:    "akash1owner",
		Provider: "akash1provider",
	}
}

func TestCheckServiceStatusAllReady(t *testing.T) {
	fc := &fakeChain{onProvider: func(args []string) (string, string, int) {
		require.True(t, argsHave(args, "lease-status", "--dseq", "1234567"))
		return `{"services": {
			"comfyui": {"uris": ["app.example.com"], "ready_replicas": 1, "available_replicas": 1},
			"api": {"uris": [], "ready_replicas": 1, "available_replicas": 1}
		}}`, "", 0
	}}
	o, _, _ := testOrchestrator(t, fc, &fakeWallet{})

	report, err := o.checkServiceStatus(context.Background(), testDeployment())
	require.NoError(t, err)
	require.True(t, report.AllReady)
	require.Equal(t, "ready", report.Status)
	require.Len(t, report.Services, 2)
	// Sorted by name for deterministic output.
	require.Equal(t, "api", report.Services[0].Name)
	require.Equal(t, "comfyui", report.Services[1].Name)
	require.Equal(t, "https://app.example.com", report.serviceURL())
}

func TestCheckServiceStatusNotReady(t *testing.T) {
	fc := &fakeChain{onProvider: func([]string) (string, string, int) {
		return `{"services": {
			"comfyui": {"uris": [], "ready_replicas": 0, "available_replicas": 1}
		}}`, "", 0
	}}
	o, _, _ := testOrchestrator(t, fc, &fakeWallet{})

	report, err := o.checkServiceStatus(context.Background(), testDeployment())
	require.NoError(t, err)
	require.False(t, report.AllReady)
	require.Equal(t, "starting", report.Status)
	require.Equal(t, "starting", report.Services[0].Status)
	require.Empty(t, report.serviceURL())
}

func TestCheckServiceStatusAlternateFieldNames(t *testing.T) {
	fc := &fakeChain{onProvider: func([]string) (string, string, int) {
		return `{"services": {
			"comfyui": {"uris": ["app.example.com"], "ready": 1, "total": 2}
		}}`, "", 0
	}}
	o, _, _ := testOrchestrator(t, fc, &fakeWallet{})

	report, err := o.checkServiceStatus(context.Background(), testDeployment())
	require.NoError(t, err)
	require.True(t, report.AllReady)
	require.Equal(t, int64(1), report.Services[0].Ready)
	require.Equal(t, int64(2), report.Services[0].Available)
}

func TestCheckServiceStatusUnparsableOutput(t *testing.T) {
	fc := &fakeChain{onProvider: func([]string) (string, string, int) {
		return "some plain text the provider emitted", "", 0
	}}
	o, _, _ := testOrchestrator(t, fc, &fakeWallet{})

	report, err := o.checkServiceStatus(context.Background(), testDeployment())
	require.NoError(t, err)
	require.Equal(t, "unknown", report.Status)
	require.False(t, report.AllReady)
	require.NotEmpty(t, report.Raw)
}

func TestCheckServiceStatusRequiresProvider(t *testing.T) {
	o, _, _ := testOrchestrator(t, &fakeChain{}, &fakeWallet{})
	_, err := o.checkServiceStatus(context.Background(), &state.Deployment{DSeq: "1234567"})
	require.Error(t, err)
}

func TestModelsDownloadedMarkers(t *testing.T) {
	for _, tc := range []struct {
		name string
		logs string
		want bool
	}{
		{"watches established", "loading...\nWatches established\n", true},
		{"watchers started lowercase", "comfyui: watchers started ok", true},
		{"downloads complete but no watchers", "Downloads complete\n", false},
		{"still downloading", "downloading model 3 of 7", false},
		{"empty logs", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeChain{onProvider: func(args []string) (string, string, int) {
				require.True(t, argsHave(args, "lease-logs", "--tail", "200"))
				return tc.logs, "", 0
			}}
			o, _, _ := testOrchestrator(t, fc, &fakeWallet{})
			require.Equal(t, tc.want, o.modelsDownloaded(context.Background(), testDeployment()))
		})
	}
}

func TestModelsDownloadedLogFetchFailure(t *testing.T) {
	fc := &fakeChain{onProvider: func([]string) (string, string, int) {
		return "", "connection refused", 1
	}}
	o, _, _ := testOrchestrator(t, fc, &fakeWallet{})
	require.False(t, o.modelsDownloaded(context.Background(), testDeployment()))
}

func TestServiceURLPicksFirstSortedService(t *testing.T) {
	r := &statusReport{URIs: map[string][]string{
		"zed": {"zed.example.com"},
		"api": {"api.example.com", "api2.example.com"},
	}}
	require.Equal(t, "https://api.example.com", r.serviceURL())

	require.Empty(t, (&statusReport{}).serviceURL())
}
