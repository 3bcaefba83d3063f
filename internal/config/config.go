package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's bootstrap configuration: the facts it needs to
// rejoin the same mesh position across restarts.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr,omitempty"`
	AdvertisedAddr string   `yaml:"advertised_addr,omitempty"`
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty"`
	IgnoreFiles    []string `yaml:"ignore_files,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:  "127.0.0.1:0",
		IgnoreFiles: []string{".gitignore", ".ignore"},
	}
}

// Manager loads a YAML bootstrap file and layers CLI flag overrides on top
// of it, the file supplying defaults and flags winning when set.
type Manager struct {
	file   Config
	merged Config
}

func NewManager() *Manager {
	return &Manager{file: defaultConfig(), merged: defaultConfig()}
}

// Load reads path (collabd.yaml) if it exists; a missing file is not an
// error, the daemon simply runs with defaults until flags/Save fill it in.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.merged = m.file
			return nil
		}
		return err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}
	m.file = cfg
	m.merged = cfg
	return nil
}

// ApplyOverrides layers non-zero CLI flag values over the loaded file
// config. Empty strings and nil slices mean "flag not set" and are skipped.
func (m *Manager) ApplyOverrides(listenAddr, advertisedAddr string, bootstrapPeers []string) {
	merged := m.file
	if listenAddr != "" {
		merged.ListenAddr = listenAddr
	}
	if advertisedAddr != "" {
		merged.AdvertisedAddr = advertisedAddr
	}
	if len(bootstrapPeers) > 0 {
		merged.BootstrapPeers = bootstrapPeers
	}
	m.merged = merged
}

func (m *Manager) Get() Config {
	return m.merged
}

// Save writes the currently-loaded file layer (not the flag-merged view)
// back to path, so a `start --peer ...` invocation doesn't silently bake
// ephemeral CLI overrides into the bootstrap file.
func (m *Manager) Save(path string) error {
	data, err := yaml.Marshal(m.file)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
