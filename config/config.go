// Package config loads and validates the daemon configuration. The native
// format is the XML layout of the original heimdall; the same schema is
// accepted as TOML, selected by file extension.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ChristianF88/heimdall/logparser"
	"github.com/ChristianF88/heimdall/observer"
)

// DefaultPaths is searched in order when no config file is given on the
// command line.
var DefaultPaths = []string{"/etc/heimdall.xml", "heimdall.xml"}

// Config is the validated daemon configuration.
type Config struct {
	LogFile       string
	CommandJail   string
	CommandUnjail string
	EventSink     string
	JailTime      int64
	Observers     []*observer.Observer
}

// Load reads and validates the configuration at path. Files ending in
// ".toml" go through the TOML decoder, everything else through the XML
// decoder for compatibility with existing heimdall.xml files.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return parseTOML(data)
	}
	return parseXML(data)
}

// FindDefault returns the first existing default config path.
func FindDefault() (string, bool) {
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// --- XML ---

type xmlConfig struct {
	LogFile       string        `xml:"logfile"`
	CommandJail   string        `xml:"command_jail"`
	CommandUnjail string        `xml:"command_unjail"`
	EventSink     string        `xml:"event_sink"`
	Observers     *xmlObservers `xml:"observers"`
}

type xmlObservers struct {
	JailTime  string        `xml:"jail_time,attr"`
	Observers []xmlObserver `xml:"observer"`
}

type xmlObserver struct {
	Name         string   `xml:"name,attr"`
	LimitMinutes string   `xml:"limit_minutes,attr"`
	LimitCount   string   `xml:"limit_count,attr"`
	File         string   `xml:"file"`
	Patterns     []string `xml:"patterns>pattern"`
}

func parseXML(data []byte) (*Config, error) {
	var raw xmlConfig
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid XML: %w", err)
	}

	if raw.LogFile == "" {
		return nil, fmt.Errorf("invalid XML: logfile element is missing or empty")
	}
	if raw.CommandJail == "" {
		return nil, fmt.Errorf("invalid XML: command_jail element is missing or empty")
	}
	if raw.CommandUnjail == "" {
		return nil, fmt.Errorf("invalid XML: command_unjail element is missing or empty")
	}
	if raw.Observers == nil {
		return nil, fmt.Errorf("invalid XML: observers element is missing")
	}
	if raw.Observers.JailTime == "" {
		return nil, fmt.Errorf("invalid XML: attribute jail_time is missing")
	}
	jailTime, err := strconv.ParseInt(raw.Observers.JailTime, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid data format: jail_time has to be an integer")
	}

	cfg := &Config{
		LogFile:       raw.LogFile,
		CommandJail:   raw.CommandJail,
		CommandUnjail: raw.CommandUnjail,
		EventSink:     raw.EventSink,
		JailTime:      jailTime,
	}

	for _, o := range raw.Observers.Observers {
		obs, err := buildObserver(o)
		if err != nil {
			return nil, err
		}
		cfg.Observers = append(cfg.Observers, obs)
	}
	return cfg, nil
}

func buildObserver(o xmlObserver) (*observer.Observer, error) {
	if o.Name == "" {
		return nil, fmt.Errorf("invalid XML: attribute name is missing")
	}
	if o.File == "" {
		return nil, fmt.Errorf("invalid XML: observer %s: file element is missing or empty", o.Name)
	}
	if len(o.Patterns) == 0 {
		return nil, fmt.Errorf("invalid XML: observer %s: patterns element is missing or empty", o.Name)
	}
	if o.LimitMinutes == "" {
		return nil, fmt.Errorf("invalid XML: observer %s: attribute limit_minutes is missing", o.Name)
	}
	limitMinutes, err := strconv.ParseUint(o.LimitMinutes, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid data format: observer %s: limit_minutes has to be an integer", o.Name)
	}
	if o.LimitCount == "" {
		return nil, fmt.Errorf("invalid XML: observer %s: attribute limit_count is missing", o.Name)
	}
	limitCount, err := strconv.ParseUint(o.LimitCount, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid data format: observer %s: limit_count has to be an integer", o.Name)
	}

	return newObserver(o.Name, o.File, uint8(limitMinutes), uint32(limitCount), o.Patterns)
}

func newObserver(name, file string, limitMinutes uint8, limitCount uint32, patterns []string) (*observer.Observer, error) {
	set, err := logparser.NewSet(patterns)
	if err != nil {
		return nil, fmt.Errorf("observer %s: %w", name, err)
	}
	return &observer.Observer{
		Name:         name,
		FilePath:     file,
		Patterns:     set,
		LimitCount:   limitCount,
		LimitMinutes: limitMinutes,
	}, nil
}

// --- TOML ---

type tomlConfig struct {
	LogFile       string         `toml:"logfile"`
	CommandJail   string         `toml:"commandJail"`
	CommandUnjail string         `toml:"commandUnjail"`
	EventSink     string         `toml:"eventSink"`
	JailTime      int64          `toml:"jailTime"`
	Observers     []tomlObserver `toml:"observer"`
}

type tomlObserver struct {
	Name         string   `toml:"name"`
	File         string   `toml:"file"`
	LimitMinutes uint8    `toml:"limitMinutes"`
	LimitCount   uint32   `toml:"limitCount"`
	Patterns     []string `toml:"patterns"`
}

func parseTOML(data []byte) (*Config, error) {
	var raw tomlConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if raw.LogFile == "" {
		return nil, fmt.Errorf("invalid config: logfile is missing or empty")
	}
	if raw.CommandJail == "" {
		return nil, fmt.Errorf("invalid config: commandJail is missing or empty")
	}
	if raw.CommandUnjail == "" {
		return nil, fmt.Errorf("invalid config: commandUnjail is missing or empty")
	}
	if raw.JailTime == 0 {
		return nil, fmt.Errorf("invalid config: jailTime is missing or zero")
	}

	cfg := &Config{
		LogFile:       raw.LogFile,
		CommandJail:   raw.CommandJail,
		CommandUnjail: raw.CommandUnjail,
		EventSink:     raw.EventSink,
		JailTime:      raw.JailTime,
	}

	for _, o := range raw.Observers {
		if o.Name == "" {
			return nil, fmt.Errorf("invalid config: observer name is missing")
		}
		if o.File == "" {
			return nil, fmt.Errorf("invalid config: observer %s: file is missing or empty", o.Name)
		}
		if len(o.Patterns) == 0 {
			return nil, fmt.Errorf("invalid config: observer %s: patterns is missing or empty", o.Name)
		}
		obs, err := newObserver(o.Name, o.File, o.LimitMinutes, o.LimitCount, o.Patterns)
		if err != nil {
			return nil, err
		}
		cfg.Observers = append(cfg.Observers, obs)
	}
	return cfg, nil
}
