package deploy

import (
	"os"
	"strings"

	"golang.org/x/xerrors"
	"sigs.k8s.io/yaml"
)

// Manifest is the workload specification (SDL), supplied either as a
// file path or as inline YAML content.
type Manifest struct {
	Path    string
	Content string
}

func (m Manifest) Provided() bool {
	return m.Path != "" || m.Content != ""
}

// Argument returns what gets handed to the chain client: the path when
// one was given, otherwise the inline content (the binary accepts
// both).
func (m Manifest) Argument() (string, error) {
	if m.Path != "" {
		return m.Path, nil
	}
	if m.Content != "" {
		return m.Content, nil
	}
	return "", xerrors.New("no manifest provided")
}

func (m Manifest) bytes() ([]byte, error) {
	if m.Path != "" {
		return os.ReadFile(m.Path)
	}
	if m.Content != "" {
		return []byte(m.Content), nil
	}
	return nil, xerrors.New("no manifest provided")
}

type sdlDoc struct {
	Profiles struct {
		Compute map[string]struct {
			Resources struct {
				GPU struct {
					Attributes struct {
						Vendor struct {
							Nvidia []struct {
								Model string `json:"model"`
							} `json:"nvidia"`
						} `json:"vendor"`
					} `json:"attributes"`
				} `json:"gpu"`
			} `json:"resources"`
		} `json:"compute"`
	} `json:"profiles"`
}

// GPUPreference extracts the ordered GPU model preference from the
// manifest's compute profiles. Falls back to the supplied default
// order when the manifest is absent, unparsable, or silent on GPUs.
func (m Manifest) GPUPreference(defaults []string) []string {
	data, err := m.bytes()
	if err != nil {
		return defaults
	}
	var doc sdlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Warnf("could not extract GPU preferences: %v", err)
		return defaults
	}

	var prefs []string
	seen := map[string]bool{}
	for _, profile := range doc.Profiles.Compute {
		for _, spec := range profile.Resources.GPU.Attributes.Vendor.Nvidia {
			model := strings.ToLower(spec.Model)
			if model != "" && !seen[model] {
				seen[model] = true
				prefs = append(prefs, model)
			}
		}
		if len(prefs) > 0 {
			log.Infof("GPU preferences from manifest: %v", prefs)
			return prefs
		}
	}
	log.Infof("using default GPU preferences: %v", defaults)
	return defaults
}
