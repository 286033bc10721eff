package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/iwb/akash-deploy/chain"
	"github.com/iwb/akash-deploy/config"
)

var log = logging.Logger("notify")

// Notifier delivers operational emails through the system mail command
// and resolves AKT pricing for cost reports. Every method is
// best-effort; notification problems never fail a deployment.
type Notifier struct {
	cfg      *config.Config
	runner   chain.Runner
	http     *http.Client
	priceURL string
}

func New(cfg *config.Config, runner chain.Runner) *Notifier {
	return &Notifier{
		cfg:      cfg,
		runner:   runner,
		http:     &http.Client{Timeout: 10 * time.Second},
		priceURL: priceURL,
	}
}

// Send emails the given report to the configured operations address.
func (n *Notifier) Send(subject, body string) {
	if n.cfg.MailUser == "" || n.cfg.Domain == "" {
		log.Debug("mail settings not configured, skipping notification")
		return
	}
	addr := n.cfg.MailUser + "@" + n.cfg.Domain

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, stderr, code := n.runner.Run(ctx, "mail",
		[]string{"-s", subject, "-r", addr, addr}, body)
	if code != 0 {
		log.Warnf("failed to send notification email: %s", stderr)
		return
	}
	log.Infof("notification sent: %s", subject)
}

const priceURL = "https://api.coingecko.com/api/v3/simple/price?ids=akash-network&vs_currencies=usd"

// AKTPrice fetches the current AKT/USD rate. The second return is
// false when the rate is unavailable.
func (n *Notifier) AKTPrice(ctx context.Context) (float64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.priceURL, nil)
	if err != nil {
		return 0, false
	}
	resp, err := n.http.Do(req)
	if err != nil {
		log.Debugf("price lookup failed: %v", err)
		return 0, false
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var doc struct {
		AkashNetwork struct {
			USD float64 `json:"usd"`
		} `json:"akash-network"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, false
	}
	if doc.AkashNetwork.USD <= 0 {
		return 0, false
	}
	return doc.AkashNetwork.USD, true
}
