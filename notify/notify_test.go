package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iwb/akash-deploy/config"
)

type fakeRunner struct {
	args  [][]string
	stdin []string
	code  int
}

func (r *fakeRunner) Run(_ context.Context, name string, args []string, stdin string) (string, string, int) {
	r.args = append(r.args, append([]string{name}, args...))
	r.stdin = append(r.stdin, stdin)
	return "", "", r.code
}

func notifierConfig() *config.Config {
	cfg := config.Default()
	cfg.MailUser = "ops"
	cfg.Domain = "example.com"
	return cfg
}

func TestSendInvokesMail(t *testing.T) {
	runner := &fakeRunner{}
	n := New(notifierConfig(), runner)

	n.Send("Deployment 123 Ready", "all good")
	require.Len(t, runner.args, 1)
	require.Equal(t, []string{
		"mail", "-s", "Deployment 123 Ready", "-r", "ops@example.com", "ops@example.com",
	}, runner.args[0])
	require.Equal(t, "all good", runner.stdin[0])
}

func TestSendSkipsWithoutMailSettings(t *testing.T) {
	runner := &fakeRunner{}
	cfg := notifierConfig()
	cfg.Domain = ""
	New(cfg, runner).Send("subject", "body")
	require.Empty(t, runner.args)
}

func TestSendSwallowsMailFailure(t *testing.T) {
	runner := &fakeRunner{code: 1}
	New(notifierConfig(), runner).Send("subject", "body")
	require.Len(t, runner.args, 1)
}

func TestAKTPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"akash-network": {"usd": 3.14}}`))
	}))
	defer srv.Close()

	n := New(notifierConfig(), &fakeRunner{})
	n.priceURL = srv.URL

	price, ok := n.AKTPrice(context.Background())
	require.True(t, ok)
	require.InDelta(t, 3.14, price, 1e-9)
}

func TestAKTPriceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	n := New(notifierConfig(), &fakeRunner{})
	n.priceURL = srv.URL

	_, ok := n.AKTPrice(context.Background())
	require.False(t, ok)

	srv.Close()
	_, ok = n.AKTPrice(context.Background())
	require.False(t, ok)

	zero := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"akash-network": {"usd": 0}}`))
	}))
	defer zero.Close()
	n.priceURL = zero.URL
	_, ok = n.AKTPrice(context.Background())
	require.False(t, ok)
}
