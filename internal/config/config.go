// Package config loads the ac-button daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/node"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/ac-button.yaml"

type Config struct {
	GPIO   GPIOConfig   `yaml:"gpio"`
	Source SourceConfig `yaml:"source"`
	Nodes  NodesConfig  `yaml:"nodes"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	HTTP   HTTPConfig   `yaml:"http"`
	Export []int        `yaml:"export" validate:"dive,min=0"`
}

type GPIOConfig struct {
	Chip string `yaml:"chip" validate:"required"`
	Bias string `yaml:"bias" validate:"oneof=pull-up pull-down disabled"`
}

type SourceConfig struct {
	Strategy     string        `yaml:"strategy" validate:"oneof=poll zerocrossing"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
	ZCPin        int           `yaml:"zc_pin" validate:"min=-1"`
}

type NodesConfig struct {
	Root string `yaml:"root" validate:"required"`
}

type MQTTConfig struct {
	Broker    string        `yaml:"broker" validate:"required"`
	ClientID  string        `yaml:"client_id"`
	Heartbeat time.Duration `yaml:"heartbeat" validate:"min=0"`
	Buffer    int           `yaml:"buffer" validate:"min=1"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		GPIO:   GPIOConfig{Chip: gpio.DefaultChip, Bias: "pull-up"},
		Source: SourceConfig{Strategy: "poll", PollInterval: 50 * time.Millisecond, ZCPin: -1},
		Nodes:  NodesConfig{Root: node.DefaultRoot},
		MQTT: MQTTConfig{
			Broker:    "tcp://localhost:1883",
			Heartbeat: 15 * time.Minute,
			Buffer:    256,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads path and overlays it on the defaults. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("config: %s not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = formatValidationMessage(e)
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if c.Source.Strategy == "zerocrossing" && c.Source.ZCPin < 0 {
		return errors.New("source.zc_pin is required for the zerocrossing strategy")
	}
	for _, pin := range c.Export {
		if c.Source.Strategy == "zerocrossing" && pin == c.Source.ZCPin {
			return fmt.Errorf("export: pin %d is the zero-crossing detector", pin)
		}
	}
	return nil
}

func formatValidationMessage(e validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Config."))
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
