// Package config loads scoremark settings from a YAML file, SCOREMARK_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SCOREMARK_LOG_LEVEL.
const EnvPrefix = "SCOREMARK"

// Settings is the resolved configuration.
type Settings struct {
	ScoreDirectory      string        `mapstructure:"score_directory"`
	AnnotationDirectory string        `mapstructure:"annotation_directory"`
	DatabasePath        string        `mapstructure:"database_path"`
	LogFile             string        `mapstructure:"log_file"`
	LogLevel            string        `mapstructure:"log_level"`
	LogMaxSizeMB        int           `mapstructure:"log_max_size_mb"` // rotate the log file past this size
	Confirmations       bool          `mapstructure:"confirmations"`
	ResizeDelay         time.Duration `mapstructure:"resize_delay"`
	RecordCacheTTL      time.Duration `mapstructure:"record_cache_ttl"`

	Overlay OverlaySettings `mapstructure:"overlay"`
	View    ViewSettings    `mapstructure:"view"`
	Pointer PointerSettings `mapstructure:"pointer"`
}

// OverlaySettings holds the highlight geometry.
type OverlaySettings struct {
	UnitScale   float64 `mapstructure:"unit_scale"`   // pixels per renderer unit
	StaffHeight float64 `mapstructure:"staff_height"` // renderer units
	NotePadding float64 `mapstructure:"note_padding"` // renderer units
	Opacity     float64 `mapstructure:"opacity"`
}

// ViewSettings maps terminal cells to renderer units.
type ViewSettings struct {
	CellWidth  float64 `mapstructure:"cell_width"`
	CellHeight float64 `mapstructure:"cell_height"`
}

// PointerSettings tunes mouse hit-testing.
type PointerSettings struct {
	MaxDistance float64 `mapstructure:"max_distance"`
}

// Dir returns the default configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "scoremark"), nil
}

// New returns a viper instance carrying the defaults and the environment
// binding. Flags may be bound to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("score_directory", ".")
	v.SetDefault("annotation_directory", "")
	v.SetDefault("database_path", "~/.config/scoremark/annotations.db")
	v.SetDefault("log_file", "~/.config/scoremark/scoremark.log")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("confirmations", true)
	v.SetDefault("resize_delay", time.Second)
	v.SetDefault("record_cache_ttl", 10*time.Minute)

	v.SetDefault("overlay.unit_scale", 10.0)
	v.SetDefault("overlay.staff_height", 4.0)
	v.SetDefault("overlay.note_padding", 1.25)
	v.SetDefault("overlay.opacity", 0.25)

	v.SetDefault("view.cell_width", 1.0)
	v.SetDefault("view.cell_height", 2.0)

	v.SetDefault("pointer.max_distance", 5.0)
}

// Load reads configFile, or config.yaml from Dir when configFile is empty,
// and returns the resolved settings. A missing default file is not an
// error.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) resolve() error {
	var err error
	if s.ScoreDirectory, err = expandPath(s.ScoreDirectory); err != nil {
		return err
	}
	if s.AnnotationDirectory == "" {
		s.AnnotationDirectory = filepath.Join(s.ScoreDirectory, "annotations")
	}
	if s.AnnotationDirectory, err = expandPath(s.AnnotationDirectory); err != nil {
		return err
	}
	if s.DatabasePath, err = expandPath(s.DatabasePath); err != nil {
		return err
	}
	if s.LogFile, err = expandPath(s.LogFile); err != nil {
		return err
	}
	return nil
}

// expandPath resolves a leading ~ and makes the path absolute.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", value, err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	if !filepath.IsAbs(value) {
		abs, err := filepath.Abs(value)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", value, err)
		}
		value = abs
	}
	return value, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	var errs []error
	if s.Overlay.UnitScale <= 0 {
		errs = append(errs, fmt.Errorf("overlay.unit_scale must be positive, got %v", s.Overlay.UnitScale))
	}
	if s.Overlay.StaffHeight <= 0 {
		errs = append(errs, fmt.Errorf("overlay.staff_height must be positive, got %v", s.Overlay.StaffHeight))
	}
	if s.Overlay.NotePadding < 0 {
		errs = append(errs, fmt.Errorf("overlay.note_padding must not be negative, got %v", s.Overlay.NotePadding))
	}
	if s.Overlay.Opacity <= 0 || s.Overlay.Opacity > 1 {
		errs = append(errs, fmt.Errorf("overlay.opacity must be in (0, 1], got %v", s.Overlay.Opacity))
	}
	if s.View.CellWidth <= 0 || s.View.CellHeight <= 0 {
		errs = append(errs, fmt.Errorf("view cell size must be positive, got %vx%v", s.View.CellWidth, s.View.CellHeight))
	}
	if s.Pointer.MaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("pointer.max_distance must be positive, got %v", s.Pointer.MaxDistance))
	}
	if s.ResizeDelay < 0 {
		errs = append(errs, fmt.Errorf("resize_delay must not be negative, got %v", s.ResizeDelay))
	}
	return errors.Join(errs...)
}
