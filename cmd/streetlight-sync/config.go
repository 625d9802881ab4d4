package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	yaml "gopkg.in/yaml.v2"
)

type BrokerConfig struct {
	Endpoint           string `yaml:"endpoint"`
	TokenEndpoint      string `yaml:"tokenEndpoint"`
	TimeSeriesEndpoint string `yaml:"timeSeriesEndpoint"`
	Service            string `yaml:"service"`
	ServicePath        string `yaml:"servicePath"`
}

type SyncConfig struct {
	UpdateTime          string `yaml:"updateTime"`
	RetryWaitSeconds    int    `yaml:"retryWaitSeconds"`
	MaxFails            int    `yaml:"maxFails"`
	RoundDelaySeconds   int    `yaml:"roundDelaySeconds"`
	CreateSubscriptions bool   `yaml:"createSubscriptions"`
}

type FilesConfig struct {
	Credentials  string `yaml:"credentials"`
	Coordinates  string `yaml:"coordinates"`
	DataManifest string `yaml:"dataManifest"`
	StoreDataDir string `yaml:"storeDataDir"`
}

type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Sync   SyncConfig   `yaml:"sync"`
	Files  FilesConfig  `yaml:"files"`
}

func defaultConfiguration() *Config {
	return &Config{
		Broker: BrokerConfig{
			Endpoint:           "http://localhost:1026",
			TimeSeriesEndpoint: "http://quantumleap:8668/v2",
		},
		Sync: SyncConfig{
			UpdateTime:          "08:15",
			RetryWaitSeconds:    300,
			MaxFails:            5,
			RoundDelaySeconds:   15,
			CreateSubscriptions: true,
		},
		Files: FilesConfig{
			Credentials:  "streetlight_api.json",
			Coordinates:  "coordinates.json",
			DataManifest: "data_files.json",
		},
	}
}

// LoadConfiguration builds the service configuration from the defaults, an
// optional YAML file named by CONFIG_FILE, and environment overrides, in
// that order.
func LoadConfiguration(ctx context.Context) (*Config, error) {
	cfg := defaultConfiguration()

	if path := env.GetVariableOrDefault(ctx, "CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file: %w", err)
		}
	}

	cfg.Broker.Endpoint = env.GetVariableOrDefault(ctx, "BROKER_ENDPOINT", cfg.Broker.Endpoint)
	cfg.Broker.TokenEndpoint = env.GetVariableOrDefault(ctx, "KEYROCK_ENDPOINT", cfg.Broker.TokenEndpoint)
	cfg.Broker.TimeSeriesEndpoint = env.GetVariableOrDefault(ctx, "QUANTUMLEAP_ENDPOINT", cfg.Broker.TimeSeriesEndpoint)
	cfg.Broker.Service = env.GetVariableOrDefault(ctx, "FIWARE_SERVICE", cfg.Broker.Service)
	cfg.Broker.ServicePath = env.GetVariableOrDefault(ctx, "FIWARE_SERVICEPATH", cfg.Broker.ServicePath)

	cfg.Sync.UpdateTime = env.GetVariableOrDefault(ctx, "UPDATE_TIME", cfg.Sync.UpdateTime)
	cfg.Files.Credentials = env.GetVariableOrDefault(ctx, "API_CREDENTIALS_FILE", cfg.Files.Credentials)
	cfg.Files.Coordinates = env.GetVariableOrDefault(ctx, "COORDINATE_FILE", cfg.Files.Coordinates)
	cfg.Files.DataManifest = env.GetVariableOrDefault(ctx, "DATA_FILE", cfg.Files.DataManifest)
	cfg.Files.StoreDataDir = env.GetVariableOrDefault(ctx, "STORE_DATA_DIR", cfg.Files.StoreDataDir)

	var err error
	if cfg.Sync.RetryWaitSeconds, err = intFromEnv(ctx, "RETRY_WAIT_S", cfg.Sync.RetryWaitSeconds); err != nil {
		return nil, err
	}
	if cfg.Sync.MaxFails, err = intFromEnv(ctx, "MAX_FAILS", cfg.Sync.MaxFails); err != nil {
		return nil, err
	}
	if cfg.Sync.RoundDelaySeconds, err = intFromEnv(ctx, "ROUND_DELAY_S", cfg.Sync.RoundDelaySeconds); err != nil {
		return nil, err
	}
	if cfg.Sync.CreateSubscriptions, err = boolFromEnv(ctx, "CREATE_SUBSCRIPTIONS", cfg.Sync.CreateSubscriptions); err != nil {
		return nil, err
	}

	if _, _, err := cfg.UpdateTimeParts(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateTimeParts parses the configured HH:MM update time.
func (c *Config) UpdateTimeParts() (int, int, error) {
	parts := strings.Split(c.Sync.UpdateTime, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("update time %q is not on the form HH:MM", c.Sync.UpdateTime)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("update time %q has an invalid hour", c.Sync.UpdateTime)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("update time %q has an invalid minute", c.Sync.UpdateTime)
	}

	return hour, minute, nil
}

func intFromEnv(ctx context.Context, name string, current int) (int, error) {
	value := env.GetVariableOrDefault(ctx, name, strconv.Itoa(current))
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return parsed, nil
}

func boolFromEnv(ctx context.Context, name string, current bool) (bool, error) {
	value := env.GetVariableOrDefault(ctx, name, strconv.FormatBool(current))
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, err)
	}
	return parsed, nil
}
