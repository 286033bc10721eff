package chain

import (
	"encoding/json"
	"strings"

	"golang.org/x/xerrors"
	"sigs.k8s.io/yaml"
)

// Result is the outcome of a query against the chain client. Output
// is attempted as JSON first, then YAML, and kept as raw text when
// neither yields a document. Callers check Structured before Decode
// instead of guessing at the shape.
type Result struct {
	data []byte // canonical JSON, nil when raw
	raw  string
}

// Parse classifies command output into a structured or raw Result.
// Only object and array documents count as structured; bare scalars
// stay raw, matching how callers consume them.
func Parse(out string) Result {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return Result{raw: out}
	}
	if isDocument([]byte(trimmed)) && json.Valid([]byte(trimmed)) {
		return Result{data: []byte(trimmed), raw: out}
	}
	if converted, err := yaml.YAMLToJSON([]byte(trimmed)); err == nil && isDocument(converted) {
		return Result{data: converted, raw: out}
	}
	return Result{raw: out}
}

func isDocument(b []byte) bool {
	return len(b) > 0 && (b[0] == '{' || b[0] == '[')
}

// Structured reports whether Decode will work.
func (r Result) Structured() bool {
	return r.data != nil
}

// Raw returns the unparsed command output. Always available.
func (r Result) Raw() string {
	return r.raw
}

// Decode unmarshals a structured result into v.
func (r Result) Decode(v interface{}) error {
	if r.data == nil {
		return xerrors.New("query result is not structured")
	}
	if err := json.Unmarshal(r.data, v); err != nil {
		return xerrors.Errorf("decoding query result: %w", err)
	}
	return nil
}
