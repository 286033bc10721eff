package deploy

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// seq is a sequence number that different node versions emit as either
// a JSON number or a string.
type seq string

func (s *seq) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		*s = seq(v)
	case float64:
		*s = seq(strconv.FormatInt(int64(v), 10))
	default:
		*s = ""
	}
	return nil
}

func (s seq) String() string {
	return string(s)
}

// BidID identifies a bid on the marketplace.
type BidID struct {
	Owner    string `json:"owner"`
	DSeq     seq    `json:"dseq"`
	GSeq     seq    `json:"gseq"`
	OSeq     seq    `json:"oseq"`
	Provider string `json:"provider"`
}

type coin struct {
	Denom  string `json:"denom"`
	Amount seq    `json:"amount"`
}

// Bid is one provider's offer for an open deployment order.
type Bid struct {
	BidID BidID  `json:"bid_id"`
	State string `json:"state"`
	Price coin   `json:"price"`
}

type bidEntry struct {
	Bid Bid `json:"bid"`
}

type bidList struct {
	Bids []bidEntry `json:"bids"`
}

// priceUAKT returns the bid price in uakt, zero when unparsable.
func (b Bid) priceUAKT() int64 {
	f, err := strconv.ParseFloat(string(b.Price.Amount), 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

type providerInfo struct {
	HostURI    string `json:"host_uri"`
	Attributes []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"attributes"`
}

type scoredBid struct {
	entry    bidEntry
	hostURI  string
	quality  float64
	price    int64
	combined float64
}

// selectBestBid ranks the open bids by provider quality and price and
// returns the winner. Bids whose provider attributes cannot be fetched
// are skipped, not fatal. Returns nil only when every bid was skipped;
// callers treat that as "no usable bid", distinct from "no bids".
func (o *Orchestrator) selectBestBid(ctx context.Context, bids []bidEntry) *bidEntry {
	if len(bids) == 0 {
		return nil
	}
	log.Infof("evaluating %d bids", len(bids))

	gpuPrefs := o.manifest.GPUPreference(o.cfg.DefaultGPUPreference)

	var scored []scoredBid
	for _, entry := range bids {
		provider := entry.Bid.BidID.Provider

		attrs, hostURI, ok := o.providerAttributes(ctx, provider)
		if !ok {
			log.Warnf("skipping bid from %s: no attributes available", provider)
			continue
		}

		quality := scoreProvider(attrs, gpuPrefs, o.cfg.PrimaryCountry, o.cfg.SecondaryCountries)
		price := entry.Bid.priceUAKT()
		priceScore := 0.0
		if price < o.cfg.PriceCeiling {
			priceScore = float64(o.cfg.PriceCeiling-price) / float64(o.cfg.PriceCeiling) * 100
		}
		combined := quality*0.7 + priceScore*0.3

		scored = append(scored, scoredBid{
			entry:    entry,
			hostURI:  hostURI,
			quality:  quality,
			price:    price,
			combined: combined,
		})
		log.Infof("  %s - score: %.1f, price: %d uakt, combined: %.1f", provider, quality, price, combined)
	}

	if len(scored) == 0 {
		log.Error("no valid bids after scoring")
		return nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].combined > scored[j].combined
	})

	best := scored[0]
	log.Infof("selected best bid: %s (score %.1f)", best.entry.Bid.BidID.Provider, best.combined)
	log.Infof("provider URI: %s", best.hostURI)
	return &best.entry
}

func (o *Orchestrator) providerAttributes(ctx context.Context, provider string) (map[string]string, string, bool) {
	res, err := o.client.Query(ctx, "query", "provider", "get", provider, "--output", "json")
	if err != nil || !res.Structured() {
		return nil, "", false
	}
	var info providerInfo
	if err := res.Decode(&info); err != nil {
		return nil, "", false
	}
	attrs := make(map[string]string, len(info.Attributes))
	for _, a := range info.Attributes {
		attrs[a.Key] = a.Value
	}
	return attrs, info.HostURI, true
}

// scoreProvider computes the quality score from provider attributes:
// location, GPU model preference rank, and organization tier.
func scoreProvider(attrs map[string]string, gpuPrefs []string, primaryCountry string, secondary []string) float64 {
	if len(attrs) == 0 {
		return 0
	}
	score := 0.0

	country := strings.ToUpper(attrs["country"])
	region := strings.ToLower(attrs["region"])
	switch {
	case country == primaryCountry || strings.Contains(region, "us-"):
		score += 50
	case containsString(secondary, country):
		score += 30
	}

	gpuModel := strings.ToLower(attrs["capabilities/gpu/model"])
	matched := false
	if gpuModel != "" {
		for rank, preferred := range gpuPrefs {
			if strings.Contains(gpuModel, strings.ToLower(preferred)) {
				score += float64(100 - rank*10)
				matched = true
				break
			}
		}
	}
	if !matched && attrs["capabilities/gpu/vendor"] == "nvidia" {
		score += 25
	}

	if strings.Contains(strings.ToLower(attrs["organization"]), "overclock") {
		score += 20
	} else if strings.Contains(strings.ToLower(attrs["location-type"]), "datacenter") {
		score += 15
	}

	return score
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
