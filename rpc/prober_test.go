package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iwb/akash-deploy/config"
)

type fakeRunner struct {
	code int
}

func (r fakeRunner) Run(context.Context, string, []string, string) (string, string, int) {
	return "block data", "probe failed", r.code
}

func proberConfig(endpoints ...string) *config.Config {
	cfg := config.Default()
	cfg.RPCEndpoints = endpoints
	cfg.FallbackRPC = "https://fallback:443"
	cfg.ProbeTimeout = config.Duration(2 * time.Second)
	cfg.StatusProbeTimeout = config.Duration(time.Second)
	return cfg
}

func TestSelectPicksReachableNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(proberConfig(srv.URL), nil, fakeRunner{code: 0})
	best, results := p.Select(context.Background())
	require.Equal(t, srv.URL, best)
	require.Len(t, results, 1)
	require.True(t, results[0].Reachable())
	require.Greater(t, results[0].Latency, time.Duration(0))
}

func TestSelectFallsBackWhenNothingAnswers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	dead := srv.URL
	srv.Close()

	p := NewProber(proberConfig(dead), nil, fakeRunner{code: 0})
	best, results := p.Select(context.Background())
	require.Equal(t, "https://fallback:443", best)
	require.Len(t, results, 1)
	require.False(t, results[0].Reachable())
}

func TestSelectRejectsNodeFailingChainQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Status endpoint answers but the functional query does not.
	p := NewProber(proberConfig(srv.URL), nil, fakeRunner{code: 1})
	best, _ := p.Select(context.Background())
	require.Equal(t, "https://fallback:443", best)
}

func TestPickBestLowestLatency(t *testing.T) {
	best, ok := pickBest([]ProbeResult{
		{Endpoint: "a", Latency: 300 * time.Millisecond},
		{Endpoint: "b", Latency: 100 * time.Millisecond},
		{Endpoint: "c", Latency: 200 * time.Millisecond},
	})
	require.True(t, ok)
	require.Equal(t, "b", best.Endpoint)
}

func TestPickBestTieKeepsFirstSeen(t *testing.T) {
	best, ok := pickBest([]ProbeResult{
		{Endpoint: "first", Latency: 100 * time.Millisecond},
		{Endpoint: "second", Latency: 100 * time.Millisecond},
	})
	require.True(t, ok)
	require.Equal(t, "first", best.Endpoint)
}

func TestPickBestSkipsUnreachable(t *testing.T) {
	best, ok := pickBest([]ProbeResult{
		{Endpoint: "down", Latency: time.Millisecond, Err: context.DeadlineExceeded},
		{Endpoint: "up", Latency: time.Second},
	})
	require.True(t, ok)
	require.Equal(t, "up", best.Endpoint)

	_, ok = pickBest([]ProbeResult{
		{Endpoint: "down", Err: context.DeadlineExceeded},
	})
	require.False(t, ok)
}
