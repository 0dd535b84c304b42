package authcache

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration consumed by the service binary.
// Durations are whole seconds.
type FileConfig struct {
	Endpoint          string `yaml:"endpoint"`
	DefaultTTLSeconds int    `yaml:"defaultTTL"`
	MaxEntries        int    `yaml:"maxEntries"`
	TimeoutSeconds    int    `yaml:"timeout"`
	Provider          string `yaml:"provider"`
	DB                string `yaml:"db"`
}

func GetConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
