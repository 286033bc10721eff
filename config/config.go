package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// Config carries every tunable the tool uses. It is built once at
// startup and passed by reference; nothing mutates it afterwards.
type Config struct {
	// Project is the namespace identifier the wallet name and default
	// file names derive from.
	Project    string
	WalletName string

	KeyringBackend string
	ChainID        string

	RPCEndpoints []string
	FallbackRPC  string

	Gas           string
	GasAdjustment string
	GasPrices     string

	// MinBalance is the minimum wallet balance, in uakt, required to
	// start a new deployment.
	MinBalance int64

	BidInterval   Duration
	BidTimeout    Duration
	ReadyInterval Duration
	ReadyTimeout  Duration

	QueryTimeout       Duration
	TxTimeout          Duration
	ManifestTimeout    Duration
	LogsTimeout        Duration
	ProbeTimeout       Duration
	StatusProbeTimeout Duration

	// PriceCeiling is the bid price, in uakt per block, at or above
	// which the price component of a bid score is zero.
	PriceCeiling int64

	PrimaryCountry     string
	SecondaryCountries []string

	// DefaultGPUPreference is the model preference order used when the
	// manifest does not declare one.
	DefaultGPUPreference []string

	StorjBucket string
	Domain      string
	MailUser    string

	// Home is where the state file, log files and certificates live.
	// Falls back to the current directory when not writable.
	Home string
}

type envOverlay struct {
	Project     string `envconfig:"COMPOSE_PROJECT_NAME"`
	StorjBucket string `envconfig:"IWB_STORJ_WPOPS_BUCKET"`
	Domain      string `envconfig:"IWB_DOMAIN"`
	MailUser    string `envconfig:"IWB_MAIL_USER"`
}

// ConfigFileName is looked up under the home directory and, when
// present, overlays the defaults before the environment does.
const ConfigFileName = "akash-deploy.toml"

func Default() *Config {
	return &Config{
		KeyringBackend: "test",
		ChainID:        "akashnet-2",

		RPCEndpoints: []string{
			"https://rpc.akashnet.net:443",
			"https://rpc-akash.ecostake.com:443",
			"https://akash-rpc.polkachu.com:443",
			"https://akash.c29r3.xyz:443/rpc",
			"https://akash-rpc.europlots.com:443",
		},
		FallbackRPC: "https://rpc.akashnet.net:443",

		Gas:           "auto",
		GasAdjustment: "1.75",
		GasPrices:     "0.025uakt",

		MinBalance: 1_000_000,

		BidInterval:   Duration(10 * time.Second),
		BidTimeout:    Duration(300 * time.Second),
		ReadyInterval: Duration(30 * time.Second),
		ReadyTimeout:  Duration(900 * time.Second),

		QueryTimeout:       Duration(30 * time.Second),
		TxTimeout:          Duration(120 * time.Second),
		ManifestTimeout:    Duration(60 * time.Second),
		LogsTimeout:        Duration(30 * time.Second),
		ProbeTimeout:       Duration(8 * time.Second),
		StatusProbeTimeout: Duration(3 * time.Second),

		PriceCeiling: 5000,

		PrimaryCountry:     "US",
		SecondaryCountries: []string{"CA", "GB", "DE", "NL", "AU"},

		DefaultGPUPreference: []string{"rtx4090", "a100", "h100", "rtx3090", "rtx3080", "v100", "a6000"},

		MailUser: "admin",
	}
}

// FromEnv builds the runtime configuration: defaults, then the
// optional TOML file under home, then the environment.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.Home = resolveHome()

	path := filepath.Join(cfg.Home, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, xerrors.Errorf("decoding %s: %w", path, err)
		}
	}

	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return nil, xerrors.Errorf("reading environment: %w", err)
	}
	if env.Project != "" {
		cfg.Project = env.Project
	}
	if env.StorjBucket != "" {
		cfg.StorjBucket = env.StorjBucket
	}
	if env.Domain != "" {
		cfg.Domain = env.Domain
	}
	if env.MailUser != "" {
		cfg.MailUser = env.MailUser
	}

	if cfg.Project == "" {
		return nil, xerrors.Errorf("COMPOSE_PROJECT_NAME must be set (found: %s)", composeEnvHint())
	}
	cfg.WalletName = cfg.Project + "akashwallet"

	return cfg, nil
}

// composeEnvHint lists whatever COMPOSE* variables are around, so the
// failure names what the environment actually provides.
func composeEnvHint() string {
	var found []string
	for _, kv := range os.Environ() {
		if strings.Contains(kv, "COMPOSE") {
			found = append(found, strings.SplitN(kv, "=", 2)[0])
		}
	}
	if len(found) == 0 {
		return "none"
	}
	sort.Strings(found)
	return strings.Join(found, ", ")
}

func resolveHome() string {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return "."
	}
	if !writable(home) {
		return "."
	}
	return home
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}

// StateFile is the single JSON document holding the active deployment.
func (c *Config) StateFile() string {
	return filepath.Join(c.Home, "active-deployment.json")
}

// LogFile returns a timestamped log path, tagged with the deployment
// sequence when one is already known.
func (c *Config) LogFile(dseq string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	suffix := ""
	if dseq != "" {
		suffix = "_" + dseq
	}
	return filepath.Join(c.Home, fmt.Sprintf("iwb-akash-deploy_%s%s.log", ts, suffix))
}

// CertDir is where provider-services keeps client certificates.
func (c *Config) CertDir() string {
	return filepath.Join(c.Home, ".akash")
}

func (c *Config) CertFile(address string) string {
	return filepath.Join(c.CertDir(), address+".pem")
}
