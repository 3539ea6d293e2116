package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ChatdYAMLConfig represents the complete chatd.yaml file structure.
type ChatdYAMLConfig struct {
	Gateway       *GatewayConfig       `yaml:"gateway"`
	Queue         *QueueConfig         `yaml:"queue"`
	Retention     *RetentionConfig     `yaml:"retention"`
	Bus           *BusConfig           `yaml:"bus"`
	Presence      *PresenceConfig      `yaml:"presence"`
	Classifier    *ClassifierConfig    `yaml:"classifier"`
	Orchestration *OrchestrationConfig `yaml:"orchestration"`
	Auth          *AuthConfig          `yaml:"auth"`
	FileStorage   *FileStorageConfig   `yaml:"file_storage"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined sections on top of built-in defaults
//  5. Build the LLM provider registry
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully", "llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	chatdConfig, err := loader.loadChatdYAML()
	if err != nil {
		return nil, NewLoadError("chatd.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	llmProviderRegistry := NewLLMProviderRegistry(toProviderPointers(llmProviders))

	queueConfig, err := mergeSection(DefaultQueueConfig(), chatdConfig.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to merge queue config: %w", err)
	}

	retentionConfig, err := mergeSection(DefaultRetentionConfig(), chatdConfig.Retention)
	if err != nil {
		return nil, fmt.Errorf("failed to merge retention config: %w", err)
	}

	gatewayConfig, err := mergeSection(DefaultGatewayConfig(), chatdConfig.Gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to merge gateway config: %w", err)
	}

	busConfig, err := mergeSection(DefaultBusConfig(), chatdConfig.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to merge bus config: %w", err)
	}

	presenceConfig, err := mergeSection(DefaultPresenceConfig(), chatdConfig.Presence)
	if err != nil {
		return nil, fmt.Errorf("failed to merge presence config: %w", err)
	}

	classifierConfig, err := mergeSection(DefaultClassifierConfig(), chatdConfig.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to merge classifier config: %w", err)
	}

	orchestrationConfig, err := mergeSection(DefaultOrchestrationConfig(), chatdConfig.Orchestration)
	if err != nil {
		return nil, fmt.Errorf("failed to merge orchestration config: %w", err)
	}

	authConfig, err := mergeSection(DefaultAuthConfig(), chatdConfig.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to merge auth config: %w", err)
	}

	fileStorageConfig, err := mergeSection(DefaultFileStorageConfig(), chatdConfig.FileStorage)
	if err != nil {
		return nil, fmt.Errorf("failed to merge file storage config: %w", err)
	}

	return &Config{
		configDir:           configDir,
		Queue:               queueConfig,
		Retention:           retentionConfig,
		Gateway:             gatewayConfig,
		Bus:                 busConfig,
		Presence:            presenceConfig,
		Classifier:          classifierConfig,
		Orchestration:       orchestrationConfig,
		Auth:                authConfig,
		FileStorage:         fileStorageConfig,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// mergeSection merges a user-supplied YAML section onto the built-in
// defaults, with user values taking precedence. A nil user section leaves
// the defaults untouched.
func mergeSection[T any](defaults *T, user *T) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, err
	}
	return defaults, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand ${VAR} / $VAR environment references before parsing; unset
	// variables expand to the empty string.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadChatdYAML() (*ChatdYAMLConfig, error) {
	var config ChatdYAMLConfig
	if err := l.loadYAML("chatd.yaml", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

func toProviderPointers(providers map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(providers))
	for name, provider := range providers {
		providerCopy := provider
		result[name] = &providerCopy
	}
	return result
}
