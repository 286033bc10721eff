package state

import (
	"encoding/json"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("state")

// Credentials are the API credentials handed to the deployed service's
// consumer.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIURL   string `json:"api_url"`
}

// Deployment is the sole persisted entity: everything needed to resume
// or tear down an in-progress workflow. DSeq is immutable once set;
// provider, gseq and oseq are written exactly once, at lease creation.
type Deployment struct {
	DSeq         string       `json:"dseq"`
	Owner        string       `json:"owner,omitempty"`
	ManifestPath string       `json:"manifest_path,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	GSeq         string       `json:"gseq,omitempty"`
	OSeq         string       `json:"oseq,omitempty"`
	ServiceURL   string       `json:"service_url,omitempty"`
	Credentials  *Credentials `json:"api_credentials,omitempty"`
	Status       string       `json:"status,omitempty"`
}

// GSeqValue returns the group sequence, defaulting to "1".
func (d *Deployment) GSeqValue() string {
	if d.GSeq == "" {
		return "1"
	}
	return d.GSeq
}

// OSeqValue returns the order sequence, defaulting to "1".
func (d *Deployment) OSeqValue() string {
	if d.OSeq == "" {
		return "1"
	}
	return d.OSeq
}

type record struct {
	Deployment *Deployment `json:"deployment_info"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     string      `json:"status"`
}

// Store persists the deployment record as a single pretty-printed JSON
// file. The file is rewritten wholesale on every save. No locking: one
// orchestrator process owns the file for the duration of a workflow.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Save(d *Deployment) error {
	status := "active"
	if d.Status != "" {
		status = d.Status
	}
	data, err := json.MarshalIndent(record{
		Deployment: d,
		CreatedAt:  time.Now().UTC(),
		Status:     status,
	}, "", "  ")
	if err != nil {
		return xerrors.Errorf("encoding state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return xerrors.Errorf("writing state to %s: %w", s.path, err)
	}
	log.Debugf("state saved to %s", s.path)
	return nil
}

// Load returns the persisted deployment, or nil when the file is
// absent or unparsable. A corrupt file means "no state", never an
// error to surface.
func (s *Store) Load() *Deployment {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Debugf("ignoring unparsable state file %s: %v", s.path, err)
		return nil
	}
	return rec.Deployment
}

func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("removing state file: %w", err)
	}
	return nil
}
