package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "active-deployment.json"))
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := tempStore(t)

	dep := &Deployment{
		DSeq:         "1234567",
		Owner:        "akash1owner",
		ManifestPath: "deploy.yaml",
		Provider:     "akash1provider",
		GSeq:         "1",
		OSeq:         "1",
		ServiceURL:   "https://app.example.com",
		Credentials: &Credentials{
			Username: "comfyui_abc123",
			Password: "s3cret",
			APIURL:   "https://app.example.com",
		},
	}
	require.NoError(t, s.Save(dep))

	got := s.Load()
	require.NotNil(t, got)
	require.Equal(t, dep, got)
}

func TestSaveWritesEnvelopeShape(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Save(&Deployment{DSeq: "42"}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "deployment_info")
	require.Contains(t, doc, "created_at")
	require.Contains(t, doc, "status")
	require.JSONEq(t, `"active"`, string(doc["status"]))
}

func TestSaveCarriesReadyStatus(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Save(&Deployment{DSeq: "42", Status: "ready"}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "ready", doc.Status)
}

func TestLoadMissingFile(t *testing.T) {
	require.Nil(t, tempStore(t).Load())
}

func TestLoadCorruptFile(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))
	require.Nil(t, s.Load())
}

func TestClearIsIdempotent(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Save(&Deployment{DSeq: "42"}))
	require.NoError(t, s.Clear())
	require.Nil(t, s.Load())
	require.NoError(t, s.Clear())
}

func TestSeqDefaults(t *testing.T) {
	d := &Deployment{DSeq: "42"}
	require.Equal(t, "1", d.GSeqValue())
	require.Equal(t, "1", d.OSeqValue())

	d.GSeq, d.OSeq = "2", "3"
	require.Equal(t, "2", d.GSeqValue())
	require.Equal(t, "3", d.OSeqValue())
}
