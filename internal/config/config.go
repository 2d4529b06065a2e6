// Package config loads the sequencing node's YAML configuration, with
// ${VAR_NAME} / ${VAR_NAME:-default} environment substitution applied before
// parsing, the same two-step load the original anchor configuration loader
// used.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level sequencing node configuration.
type Config struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	DataDir    string           `yaml:"data_dir"`
	Network    NetworkSettings  `yaml:"network"`
	Cluster    ClusterSettings  `yaml:"cluster"`
	Rollups    []RollupSettings `yaml:"rollups"`
	Decryption DecryptionSettings `yaml:"decryption"`
	Database   DatabaseSettings `yaml:"database"`
	Security   SecuritySettings `yaml:"security"`
	Monitoring MonitoringSettings `yaml:"monitoring"`
}

// NetworkSettings configures JSON-RPC listen addresses.
type NetworkSettings struct {
	ExternalListenAddr string `yaml:"external_listen_addr"`
	ClusterListenAddr  string `yaml:"cluster_listen_addr"`
	InternalListenAddr string `yaml:"internal_listen_addr"`
	MetricsListenAddr  string `yaml:"metrics_listen_addr"`
	RPCTimeout         Duration `yaml:"rpc_timeout"`
}

// ClusterSettings configures the liveness platform this node listens to.
type ClusterSettings struct {
	Platform        string `yaml:"platform"`
	ServiceProvider string `yaml:"service_provider"`
	ChainRPCURL     string `yaml:"chain_rpc_url"`
	LivenessContract string `yaml:"liveness_contract"`
	SeederURL       string `yaml:"seeder_url"`
	MyAddress       string `yaml:"my_address"`
	PrivateKeyPath  string `yaml:"private_key_path"`
	ExternalRPCURL  string `yaml:"external_rpc_url"`
	ClusterRPCURL   string `yaml:"cluster_rpc_url"`
}

// RollupSettings statically seeds a rollup's validation backend; the rest of
// Rollup is discovered from the chain by the membership engine.
type RollupSettings struct {
	RollupID                string `yaml:"rollup_id"`
	ValidationServiceProvider string `yaml:"validation_service_provider"`
	ValidationContract      string `yaml:"validation_contract"`
	ValidationRPCURL        string `yaml:"validation_rpc_url"`
}

// DecryptionSettings points at the DKG service and SKDE/PVDE parameter
// sources loaded once at startup.
type DecryptionSettings struct {
	DKGURL        string `yaml:"dkg_url"`
	SkdeParamsPath string `yaml:"skde_params_path"`
	PvdeParamsPath string `yaml:"pvde_params_path"`
}

// DatabaseSettings configures the embedded KV engine and the optional
// Postgres audit sink.
type DatabaseSettings struct {
	KVEngine   string `yaml:"kv_engine"` // "goleveldb" or "memdb"
	AuditDSN   string `yaml:"audit_dsn"` // empty disables the audit sink
}

// SecuritySettings configures the Firebase-backed internal admin auth.
type SecuritySettings struct {
	FirebaseCredentialsPath string `yaml:"firebase_credentials_path"`
	FirestoreProjectID      string `yaml:"firestore_project_id"`
	OpsMirrorEnabled        bool   `yaml:"ops_mirror_enabled"`
}

// MonitoringSettings configures logging/metrics.
type MonitoringSettings struct {
	LogLevel string `yaml:"log_level"`
}

// Duration unmarshals YAML duration strings ("5s", "200ms") into time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Value() time.Duration { return time.Duration(d) }

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads and parses the YAML config file at path, substituting
// environment variables, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Database.KVEngine == "" {
		c.Database.KVEngine = "goleveldb"
	}
	if c.Network.RPCTimeout == 0 {
		c.Network.RPCTimeout = Duration(4 * time.Second)
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
}

// Validate checks required fields for a runnable node.
func (c *Config) Validate() error {
	if c.Cluster.Platform == "" {
		return fmt.Errorf("cluster.platform is required")
	}
	if c.Cluster.ServiceProvider == "" {
		return fmt.Errorf("cluster.service_provider is required")
	}
	if c.Cluster.ChainRPCURL == "" {
		return fmt.Errorf("cluster.chain_rpc_url is required")
	}
	return nil
}
