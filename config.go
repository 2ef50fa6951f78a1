package shelfarm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.viam.com/rdk/logging"
	"gopkg.in/yaml.v3"
)

// Config is the attribute set of the pick-and-place service. The CLI reads the same
// structure from a YAML or JSON file.
type Config struct {
	// Port is the motor controller's serial device. Empty leaves the service able to
	// plan but not execute.
	Port     string `json:"port,omitempty" yaml:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty" yaml:"baudrate,omitempty"`

	// Timeout bounds the connection handshake.
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MailboxSize int           `json:"mailbox_size,omitempty" yaml:"mailbox_size,omitempty"`

	Motors      []MotorProfile    `json:"motors,omitempty" yaml:"motors,omitempty"`
	Coordinator CoordinatorConfig `json:"coordinator,omitempty" yaml:"coordinator,omitempty"`
	Protocol    ProtocolConfig    `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Arm         ArmGeometry       `json:"arm,omitempty" yaml:"arm,omitempty"`

	Sequencer SequencerConfig `json:"sequencer,omitempty" yaml:"sequencer,omitempty"`
	Parts     PartTable       `json:"parts,omitempty" yaml:"parts,omitempty"`

	// LayoutFile replaces Sequencer and Parts with the contents of a YAML or JSON file.
	// Relative paths resolve against VIAM_MODULE_DATA.
	LayoutFile string `json:"layout_file,omitempty" yaml:"layout_file,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-" yaml:"-"`
}

// Layout is the shelf and station geometry plus the part table.
type Layout struct {
	Sequencer SequencerConfig `json:"sequencer" yaml:"sequencer"`
	Parts     PartTable       `json:"parts" yaml:"parts"`
}

const (
	defaultBaudrate = 115200
	defaultTimeout  = 2 * time.Second
)

// Validate ensures all parts of the config are valid and fills defaults.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.Baudrate < 0 {
		return nil, nil, fmt.Errorf("%s: baudrate must be positive, got %d", path, cfg.Baudrate)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = defaultMailboxSize
	}

	if len(cfg.Motors) == 0 {
		cfg.Motors = DefaultMotorProfiles()
	}
	for _, m := range cfg.Motors {
		if err := m.validate(); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.Coordinator.applyDefaults(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Protocol.applyDefaults()
	if err := cfg.Arm.applyDefaults(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	if cfg.LayoutFile == "" {
		if err := cfg.Sequencer.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%s: sequencer: %w", path, err)
		}
	}

	var warnings []string
	if cfg.Port == "" {
		warnings = append(warnings, "no port configured, retrieve and return are disabled")
	}
	return nil, warnings, nil
}

// LoadLayout returns the layout from LayoutFile when configured, else the inline
// sequencer and parts. fromFile reports which one was used.
func (cfg *Config) LoadLayout(logger logging.Logger) (layout Layout, fromFile bool, err error) {
	inline := Layout{Sequencer: cfg.Sequencer, Parts: cfg.Parts}
	if cfg.LayoutFile == "" {
		if logger != nil {
			logger.Debug("No layout file specified, using inline layout")
		}
		return inline, false, nil
	}

	layoutPath := cfg.LayoutFile
	if !filepath.IsAbs(layoutPath) {
		moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
		if moduleDataDir == "" {
			moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
		}
		layoutPath = filepath.Join(moduleDataDir, layoutPath)
	}

	if err := decodeFile(layoutPath, &layout); err != nil {
		return Layout{}, false, fmt.Errorf("failed to load layout: %w", err)
	}
	if err := layout.Sequencer.Validate(); err != nil {
		return Layout{}, false, fmt.Errorf("layout %s: %w", layoutPath, err)
	}

	if logger != nil {
		logger.Infof("Loaded layout with %d parts from %s", len(layout.Parts), layoutPath)
	}
	return layout, true, nil
}

// LoadConfigFile reads and validates a service config from YAML (or JSON, by extension).
func LoadConfigFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse JSON %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return nil
}

// SaveLayoutFile writes layout as YAML.
func SaveLayoutFile(path string, layout Layout) error {
	data, err := yaml.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write layout file: %w", err)
	}
	return nil
}
