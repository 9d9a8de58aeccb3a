package configstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the typed view of the settings document. Unknown keys in the
// document are ignored here and preserved by the store on write.
type Settings struct {
	// SitesDir holds the site project working directories, one per site.
	SitesDir string `yaml:"sites_dir" validate:"required"`

	// SnapshotsDir holds downloaded and sanitized database dumps.
	SnapshotsDir string `yaml:"snapshots_dir" validate:"required"`

	// CheckpointsDir holds checkpoint dump artifacts.
	CheckpointsDir string `yaml:"checkpoints_dir" validate:"required"`

	// DatabasePath is the sqlite file backing checkpoints and the
	// remediation attempt log.
	DatabasePath string `yaml:"database_path" validate:"required"`

	// RuntimeBinary is the site runtime CLI (container lifecycle + exec).
	RuntimeBinary string `yaml:"runtime_binary" validate:"required"`

	// CMSBinary is the CMS administrator CLI, invoked inside the runtime.
	CMSBinary string `yaml:"cms_binary" validate:"required"`

	// PatternsFile optionally points at a YAML remediation pattern file.
	PatternsFile string `yaml:"patterns_file"`

	// Production describes the remote production source.
	Production ProductionSettings `yaml:"production"`
}

// ProductionSettings describes the authenticated remote channel to the
// production source.
type ProductionSettings struct {
	Host       string `yaml:"host" validate:"omitempty,hostname|ip"`
	Port       int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path" validate:"omitempty,file"`
	RemotePath string `yaml:"remote_path"`
}

// Configured reports whether a production source is set up at all.
func (p ProductionSettings) Configured() bool {
	return p.Host != ""
}

// LoadSettings decodes and validates the typed settings from the store's
// document, filling in defaults for absent values.
func LoadSettings(store *Store) (*Settings, error) {
	settings := defaultSettings(filepath.Dir(store.Path()))

	data, err := os.ReadFile(store.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if settings.Production.Port == 0 {
		settings.Production.Port = 22
	}

	if err := validator.New().Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func defaultSettings(baseDir string) *Settings {
	return &Settings{
		SitesDir:       filepath.Join(baseDir, "sites"),
		SnapshotsDir:   filepath.Join(baseDir, "snapshots"),
		CheckpointsDir: filepath.Join(baseDir, "checkpoints"),
		DatabasePath:   filepath.Join(baseDir, "stagehand.db"),
		RuntimeBinary:  "ddev",
		CMSBinary:      "drush",
		Production: ProductionSettings{
			Port: 22,
		},
	}
}
