package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WVSERVE"

type Config struct {
	Serve   Serve           `yaml:"serve" envconfig:"SERVE"`
	Users   map[string]User `yaml:"users" ignored:"true" validate:"required,min=1,dive"`
	Devices []string        `yaml:"devices" envconfig:"DEVICES" validate:"required,min=1,dive,required"`
}

type User struct {
	Devices []string `yaml:"devices" validate:"required,min=1"`
	Name    string   `yaml:"name" validate:"required"`
}

type Serve struct {
	Port             int64         `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	Host             string        `yaml:"host" envconfig:"HOST"`
	Mode             string        `yaml:"mode" envconfig:"MODE" validate:"omitempty,oneof=debug release prod production"`
	ForcePrivacyMode bool          `yaml:"force_privacy_mode" envconfig:"FORCE_PRIVACY_MODE"`
	MaxSessions      int           `yaml:"max_sessions" envconfig:"MAX_SESSIONS" validate:"min=1"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

func defaultConfig() Config {
	return Config{
		Serve: Serve{
			Port:            8786,
			Host:            "127.0.0.1",
			MaxSessions:     16,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// readConfig loads serve.yaml, then applies WVSERVE_ prefixed environment
// overrides (WVSERVE_SERVE_PORT, WVSERVE_DEVICES, ...) and validates the result.
func readConfig(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(yamlFile)
}

func parseConfig(data []byte) (*Config, error) {
	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := envconfig.Process(envPrefix, &config); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Release reports whether gin should run in release mode.
func (s Serve) Release() bool {
	return s.Mode == "" || s.Mode == "release" || s.Mode == "prod" || s.Mode == "production"
}

func (s Serve) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DevicePaths maps each device name, the file name without extension, to its path.
func (c *Config) DevicePaths() map[string]string {
	paths := make(map[string]string, len(c.Devices))
	for _, device := range c.Devices {
		name := strings.TrimSuffix(filepath.Base(device), filepath.Ext(device))
		paths[name] = device
	}
	return paths
}
