// Package config loads the protocol (genesis) configuration: the values
// that seed engine state on first boot and the identity that domain-
// separates this instance's request state hashes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"fhecoproc/crypto"
)

type Config struct {
	// InstanceID feeds the domain-separation tag mixed into every request
	// state hash; two instances must never share one.
	InstanceID        string   `toml:"InstanceID"`
	Owner             string   `toml:"Owner"`
	Providers         []string `toml:"Providers"`
	CooldownSeconds   uint64   `toml:"CooldownSeconds"`
	PendingTTLSeconds uint64   `toml:"PendingTTLSeconds"`
}

const defaultTemplate = `# fhecoproc protocol configuration.
# InstanceID domain-separates request state hashes; pick a unique value per
# deployment. Owner and Providers are bech32 "fhe" addresses.
InstanceID = "local"
Owner = ""
Providers = []
CooldownSeconds = 60
PendingTTLSeconds = 86400
`

// Load reads the configuration from the given path, creating a template
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultTemplate, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can seed an engine.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InstanceID) == "" {
		return fmt.Errorf("InstanceID required")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("Owner required")
	}
	if _, err := crypto.DecodeAddress(c.Owner); err != nil {
		return fmt.Errorf("Owner: %w", err)
	}
	for _, provider := range c.Providers {
		if _, err := crypto.DecodeAddress(provider); err != nil {
			return fmt.Errorf("Providers entry %q: %w", provider, err)
		}
	}
	return nil
}

// OwnerAddress returns the parsed owner identity.
func (c *Config) OwnerAddress() ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.Owner))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// ProviderAddresses returns the parsed initial provider set.
func (c *Config) ProviderAddresses() ([][20]byte, error) {
	out := make([][20]byte, 0, len(c.Providers))
	for _, provider := range c.Providers {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(provider))
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", provider, err)
		}
		out = append(out, addr.Array())
	}
	return out, nil
}
