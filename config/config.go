// Package config resolves understeerd's invocation-time flags and its
// optional durable YAML file into a single merged configuration,
// flags always winning over the file.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/hidemune/understeer-go/coalesce"
	"gopkg.in/yaml.v3"
)

// FFMode selects how much of the physical wheel's force-feedback
// feature set the virtual device advertises.
type FFMode string

// The three pass-through modes named in spec.md §4.2.
const (
	FFModeOff  FFMode = "off"
	FFModeEasy FFMode = "easy"
	FFModeFull FFMode = "full"
)

// Identity overrides the virtual device's reported bus/vendor/product
// identity and name.
type Identity struct {
	Bustype uint16 `yaml:"bustype"`
	Vendor  uint16 `yaml:"vendor"`
	Product uint16 `yaml:"product"`
	Version uint16 `yaml:"version"`
	Name    string `yaml:"name"`
}

// File is the durable, optionally-present part of configuration,
// decoded from YAML.
type File struct {
	WheelPath    string   `yaml:"wheel_path"`
	WheelName    string   `yaml:"wheel_name"`
	ShiftPath    string   `yaml:"shift_path"`
	ShiftName    string   `yaml:"shift_name"`
	AxesMapping  string   `yaml:"axes_mapping"`
	ButtonsMap   string   `yaml:"buttons_mapping"`
	GearFile     string   `yaml:"gear_file"`
	FFPassthrough string  `yaml:"ff_passthrough"`
	FFIgnore     []string `yaml:"ff_ignore"`
	NoGrab       bool     `yaml:"no_grab"`
	HatMode      string   `yaml:"hat_mode"`
	Identity     Identity `yaml:"identity"`
	InitialGainPercent       int `yaml:"initial_gain_percent"`
	InitialAutocenterPercent int `yaml:"initial_autocenter_percent"`
	MaxEffects               int `yaml:"max_effects"`
	LogFormat                string `yaml:"log_format"`
	LogLevel                 string `yaml:"log_level"`
}

// Config is the fully merged, ready-to-use configuration the
// supervisor and its components consume.
type Config struct {
	WheelPath   string
	WheelName   string
	ShiftPath   string
	ShiftName   string
	AxesMapping string
	ButtonsMapping string
	GearFile    string
	FFPassthrough FFMode
	FFIgnore    []string
	NoGrab      bool
	HatMode     coalesce.HatMode
	Identity    Identity

	InitialGainPercent       int
	InitialAutocenterPercent int
	MaxEffects               int

	LogFormat string
	LogLevel  string
}

// defaults returns the built-in configuration before any file or flag
// overrides are applied.
func defaults() Config {
	return Config{
		AxesMapping:              "axes.tsv",
		ButtonsMapping:           "buttons.tsv",
		FFPassthrough:            FFModeEasy,
		HatMode:                  coalesce.HatPriority,
		InitialGainPercent:       50,
		InitialAutocenterPercent: 50,
		MaxEffects:               16,
		LogFormat:                "text",
		LogLevel:                 "info",
	}
}

// LoadFile decodes a YAML configuration file. A missing file is not an
// error; its absence simply means no durable overrides apply.
func LoadFile(path string) (File, error) {
	var file File

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return File{}, nil
	}

	if err != nil {
		return File{}, fmt.Errorf("config.LoadFile: %w", err)
	}

	if err = yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("config.LoadFile: %w", err)
	}

	return file, nil
}

func applyFile(cfg *Config, f File) {
	if f.WheelPath != "" {
		cfg.WheelPath = f.WheelPath
	}

	if f.WheelName != "" {
		cfg.WheelName = f.WheelName
	}

	if f.ShiftPath != "" {
		cfg.ShiftPath = f.ShiftPath
	}

	if f.ShiftName != "" {
		cfg.ShiftName = f.ShiftName
	}

	if f.AxesMapping != "" {
		cfg.AxesMapping = f.AxesMapping
	}

	if f.ButtonsMap != "" {
		cfg.ButtonsMapping = f.ButtonsMap
	}

	if f.GearFile != "" {
		cfg.GearFile = f.GearFile
	}

	if f.FFPassthrough != "" {
		cfg.FFPassthrough = FFMode(f.FFPassthrough)
	}

	if len(f.FFIgnore) > 0 {
		cfg.FFIgnore = f.FFIgnore
	}

	cfg.NoGrab = cfg.NoGrab || f.NoGrab

	if f.HatMode == "last" {
		cfg.HatMode = coalesce.HatLast
	}

	if f.Identity != (Identity{}) {
		cfg.Identity = f.Identity
	}

	if f.InitialGainPercent != 0 {
		cfg.InitialGainPercent = f.InitialGainPercent
	}

	if f.InitialAutocenterPercent != 0 {
		cfg.InitialAutocenterPercent = f.InitialAutocenterPercent
	}

	if f.MaxEffects != 0 {
		cfg.MaxEffects = f.MaxEffects
	}

	if f.LogFormat != "" {
		cfg.LogFormat = f.LogFormat
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
}

// Parse builds the merged configuration from a durable file (loaded
// from filePath, which may not exist) and the given flag arguments
// (typically os.Args[1:]), flags always winning.
func Parse(fs *flag.FlagSet, args []string, filePath string) (Config, error) {
	var (
		cfg  = defaults()
		file File
		err  error
	)

	if filePath != "" {
		file, err = LoadFile(filePath)
		if err != nil {
			return Config{}, err
		}

		applyFile(&cfg, file)
	}

	var (
		wheelPath     = fs.String("wheel-path", "", "explicit event node path for the wheel")
		wheelName     = fs.String("wheel-name", "", "name substring to auto-select the wheel")
		shiftPath     = fs.String("shift-path", "", "explicit event node path for the shifter")
		shiftName     = fs.String("shift-name", "", "name substring to auto-select the shifter")
		axesMapping   = fs.String("axes-mapping", "", "path to the axes mapping TSV")
		buttonsMap    = fs.String("buttons-mapping", "", "path to the buttons mapping TSV")
		gearFile      = fs.String("gear-file", "", "path to the gear definition file")
		ffPassthrough = fs.String("ff-mode", "", "force-feedback pass-through mode: off, easy, full")
		noGrab        = fs.Bool("no-grab", false, "do not exclusively grab physical devices")
		hatMode       = fs.String("hat-mode", "", "hat coalescing mode: priority or last")
		logFormat     = fs.String("log-format", "", "log output format: text or json")
		logLevel      = fs.String("log-level", "", "log level: debug, info, warn, error")
	)

	if err = fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config.Parse: %w", err)
	}

	if *wheelPath != "" {
		cfg.WheelPath = *wheelPath
	}

	if *wheelName != "" {
		cfg.WheelName = *wheelName
	}

	if *shiftPath != "" {
		cfg.ShiftPath = *shiftPath
	}

	if *shiftName != "" {
		cfg.ShiftName = *shiftName
	}

	if *axesMapping != "" {
		cfg.AxesMapping = *axesMapping
	}

	if *buttonsMap != "" {
		cfg.ButtonsMapping = *buttonsMap
	}

	if *gearFile != "" {
		cfg.GearFile = *gearFile
	}

	if *ffPassthrough != "" {
		cfg.FFPassthrough = FFMode(*ffPassthrough)
	}

	if *noGrab {
		cfg.NoGrab = true
	}

	if *hatMode == "last" {
		cfg.HatMode = coalesce.HatLast
	} else if *hatMode == "priority" {
		cfg.HatMode = coalesce.HatPriority
	}

	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	return cfg, nil
}
