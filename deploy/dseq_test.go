package deploy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const txWithEvents = `{
  "txhash": "ABCDEF",
  "raw_log": "[]",
  "logs": [
    {
      "events": [
        {"type": "message", "attributes": [{"key": "action", "value": "create-deployment"}]},
        {"type": "akash.v1", "attributes": [
          {"key": "owner", "value": "akash1owner"},
          {"key": "dseq", "value": "21345678"}
        ]}
      ]
    }
  ]
}`

func TestExtractDSeqFromTxEvents(t *testing.T) {
	dseq, ok := extractDSeq(txWithEvents)
	require.True(t, ok)
	require.Equal(t, "21345678", dseq)
}

func TestExtractDSeqFromRawLog(t *testing.T) {
	out := `{"txhash": "AB", "raw_log": "{\"dseq\":\"9988776\"}", "logs": []}`
	dseq, ok := extractDSeq(out)
	require.True(t, ok)
	require.Equal(t, "9988776", dseq)
}

func TestExtractDSeqFromKeywordLine(t *testing.T) {
	out := "broadcasting transaction\ndeployment created with dseq 1122334 on chain\ndone"
	dseq, ok := extractDSeq(out)
	require.True(t, ok)
	require.Equal(t, "1122334", dseq)
}

func TestExtractDSeqFromDigitRun(t *testing.T) {
	out := "gas estimate: 150\nbroadcast ok 7654321 height 8\n"
	dseq, ok := extractDSeq(out)
	require.True(t, ok)
	require.Equal(t, "7654321", dseq)
}

func TestExtractDSeqPriority(t *testing.T) {
	// Structured events win over any digit run elsewhere in the output.
	dseq, ok := extractDSeq(txWithEvents)
	require.True(t, ok)
	require.NotEqual(t, "123456", dseq)
}

func TestExtractDSeqExhausted(t *testing.T) {
	for _, out := range []string{
		"",
		"no numbers here",
		"short 12345 run",
		`{"txhash": "AB", "raw_log": "ok", "logs": []}`,
	} {
		_, ok := extractDSeq(out)
		require.False(t, ok, "input %q", out)
	}
}
