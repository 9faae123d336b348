package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings are the runtime knobs. Each field can come from <home>/config.yaml (lower-case
// key) or the environment (upper-case key); the environment wins.
type Settings struct {
	LLMName string `mapstructure:"llm_name"`
	LLMHost string `mapstructure:"llm_host"`
	APIKey  string `mapstructure:"api_key"`

	TavilyAPIKey     string  `mapstructure:"tavily_api_key"`
	TavilyBaseURL    string  `mapstructure:"tavily_base_url"`
	SearchMaxResults int     `mapstructure:"search_max_results"`
	SearchThreshold  float64 `mapstructure:"search_threshold"`
	SearchMaxLen     int     `mapstructure:"search_max_len"`

	MaxAttempts int `mapstructure:"max_attempts"`

	ResearcherAPIKey string `mapstructure:"researcher_api_key"`
	DatabaseURL      string `mapstructure:"database_url"`
	KafkaBrokers     string `mapstructure:"kafka_brokers"`
	KafkaTopic       string `mapstructure:"kafka_topic"`
	SlackWebhookURL  string `mapstructure:"slack_webhook_url"`
}

// ConfigFile is the settings file name inside the home directory.
const ConfigFile = "config.yaml"

func defaults() map[string]any {
	return map[string]any{
		"tavily_base_url":    "https://api.tavily.com",
		"search_max_results": 5,
		"search_threshold":   0.5,
		"search_max_len":     399,
		"max_attempts":       3,
	}
}

var settingKeys = []string{
	"llm_name", "llm_host", "api_key",
	"tavily_api_key", "tavily_base_url", "search_max_results", "search_threshold", "search_max_len",
	"max_attempts",
	"researcher_api_key", "database_url", "kafka_brokers", "kafka_topic",
	"slack_webhook_url",
}

// LoadSettings layers defaults, <home>/config.yaml (if present) and the environment.
func LoadSettings(home string) (Settings, error) {
	values := defaults()

	if home != "" {
		b, err := os.ReadFile(filepath.Join(home, ConfigFile))
		switch {
		case err == nil:
			var file map[string]any
			if err := yaml.Unmarshal(b, &file); err != nil {
				return Settings{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
			}
			for k, v := range file {
				values[strings.ToLower(k)] = v
			}
		case !errors.Is(err, os.ErrNotExist):
			return Settings{}, err
		}
	}

	for _, k := range settingKeys {
		if v, ok := os.LookupEnv(strings.ToUpper(k)); ok && v != "" {
			values[k] = v
		}
	}

	var s Settings
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Settings{}, err
	}
	if err := dec.Decode(values); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// ValidateLLM reports which model settings are missing.
func (s Settings) ValidateLLM() error {
	var missing []string
	if s.LLMName == "" {
		missing = append(missing, "LLM_NAME")
	}
	if s.LLMHost == "" {
		missing = append(missing, "LLM_HOST")
	}
	if s.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("please set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadEnvFile loads variables from path into the environment without overriding ones
// already set. An empty path loads ./.env when it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	return godotenv.Load(path)
}
