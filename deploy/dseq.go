package deploy

import (
	"encoding/json"
	"regexp"
	"strings"
)

// A dseqExtractor tries to recover the deployment sequence id from
// transaction output. Each strategy is independent; they run in order
// and the first hit wins.
type dseqExtractor func(out string) (string, bool)

var dseqExtractors = []dseqExtractor{
	dseqFromTxEvents,
	dseqFromKeywordLines,
	dseqFromDigitRun,
}

func extractDSeq(out string) (string, bool) {
	for _, extract := range dseqExtractors {
		if dseq, ok := extract(out); ok {
			return dseq, true
		}
	}
	return "", false
}

var rawLogDSeq = regexp.MustCompile(`"dseq":"(\d+)"`)

type txOutput struct {
	TxHash string `json:"txhash"`
	RawLog string `json:"raw_log"`
	Logs   []struct {
		Events []struct {
			Type       string `json:"type"`
			Attributes []struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			} `json:"attributes"`
		} `json:"events"`
	} `json:"logs"`
}

// dseqFromTxEvents reads the structured transaction result: first the
// akash.v1 event attributes, then the raw_log field.
func dseqFromTxEvents(out string) (string, bool) {
	var tx txOutput
	if err := json.Unmarshal([]byte(out), &tx); err != nil {
		return "", false
	}
	for _, l := range tx.Logs {
		for _, ev := range l.Events {
			if ev.Type != "akash.v1" {
				continue
			}
			for _, attr := range ev.Attributes {
				if attr.Key == "dseq" && attr.Value != "" {
					return attr.Value, true
				}
			}
		}
	}
	if m := rawLogDSeq.FindStringSubmatch(tx.RawLog); m != nil {
		return m[1], true
	}
	return "", false
}

// dseqFromKeywordLines scans lines mentioning the deployment for a
// long digit token.
func dseqFromKeywordLines(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "deployment") &&
			!strings.Contains(lower, "created") &&
			!strings.Contains(lower, "dseq") {
			continue
		}
		for _, part := range strings.Fields(line) {
			if len(part) >= 6 && isDigits(part) {
				return part, true
			}
		}
	}
	return "", false
}

var digitRun = regexp.MustCompile(`\b\d{6,}\b`)

// dseqFromDigitRun takes the first run of six or more digits anywhere
// in the output. Last resort.
func dseqFromDigitRun(out string) (string, bool) {
	if m := digitRun.FindString(out); m != "" {
		return m, true
	}
	return "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
