package coprocessord

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime options for the coprocessor daemon. Protocol
// parameters (owner, providers, cooldown) live in the separate protocol
// config file referenced by ProtocolConfig.
type Config struct {
	ListenAddress  string `yaml:"listen"`
	Environment    string `yaml:"environment"`
	DataDir        string `yaml:"data_dir"`
	JournalPath    string `yaml:"journal"`
	ProtocolConfig string `yaml:"protocol_config"`

	// Oracle selects the decryption oracle wiring: "sim" runs the
	// in-process simulator, "http" dispatches to a remote service.
	OracleMode      string `yaml:"oracle_mode"`
	OracleEndpoint  string `yaml:"oracle_endpoint"`
	OracleAPIKey    string `yaml:"oracle_api_key"`
	OracleSigner    string `yaml:"oracle_signer"`
	SimSeed         string `yaml:"sim_seed"`
	SimSignerKey    string `yaml:"sim_signer_key"`
	SimSignerKeyEnv string `yaml:"sim_signer_key_env"`

	CallbackAPIKey string `yaml:"callback_api_key"`
	CallbackSecret string `yaml:"callback_secret"`
	AdminJWTSecret string `yaml:"admin_jwt_secret"`
	JWTIssuer      string `yaml:"jwt_issuer"`
	JWTAudience    string `yaml:"jwt_audience"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutSec int           `yaml:"request_timeout_seconds"`
	ExpirySweep       time.Duration `yaml:"-"`
	ExpirySweepSec    int           `yaml:"expiry_sweep_seconds"`

	SubmitPerMinute   float64 `yaml:"submit_per_minute"`
	AnalysisPerMinute float64 `yaml:"analysis_per_minute"`
}

const (
	oracleModeSim  = "sim"
	oracleModeHTTP = "http"
)

// LoadConfig reads configuration from disk and applies defaults.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddress:     ":8087",
		DataDir:           filepath.Join(os.TempDir(), "fhecoproc"),
		ProtocolConfig:    "config/protocol.toml",
		OracleMode:        oracleModeSim,
		SimSeed:           "fhecoproc-dev",
		RequestTimeoutSec: 15,
		ExpirySweepSec:    60,
		SubmitPerMinute:   120,
		AnalysisPerMinute: 60,
	}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8087"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("data_dir required")
	}
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	cfg.ProtocolConfig = strings.TrimSpace(cfg.ProtocolConfig)
	if cfg.ProtocolConfig == "" {
		return Config{}, fmt.Errorf("protocol_config required")
	}
	cfg.OracleMode = strings.ToLower(strings.TrimSpace(cfg.OracleMode))
	switch cfg.OracleMode {
	case oracleModeSim:
		cfg.SimSignerKey = strings.TrimSpace(cfg.SimSignerKey)
		if env := strings.TrimSpace(cfg.SimSignerKeyEnv); cfg.SimSignerKey == "" && env != "" {
			cfg.SimSignerKey = strings.TrimSpace(os.Getenv(env))
		}
	case oracleModeHTTP:
		if strings.TrimSpace(cfg.OracleEndpoint) == "" {
			return Config{}, fmt.Errorf("oracle_endpoint required for oracle_mode http")
		}
		if strings.TrimSpace(cfg.OracleSigner) == "" {
			return Config{}, fmt.Errorf("oracle_signer required for oracle_mode http")
		}
	default:
		return Config{}, fmt.Errorf("oracle_mode must be %q or %q", oracleModeSim, oracleModeHTTP)
	}
	if strings.TrimSpace(cfg.CallbackSecret) == "" {
		return Config{}, fmt.Errorf("callback_secret required")
	}
	if strings.TrimSpace(cfg.CallbackAPIKey) == "" {
		cfg.CallbackAPIKey = "oracle"
	}
	if cfg.RequestTimeoutSec <= 0 {
		cfg.RequestTimeoutSec = 15
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSec) * time.Second
	if cfg.ExpirySweepSec <= 0 {
		cfg.ExpirySweepSec = 60
	}
	cfg.ExpirySweep = time.Duration(cfg.ExpirySweepSec) * time.Second
	return cfg, nil
}
