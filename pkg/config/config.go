// Package config holds the runtime configuration. A Config is built
// once at startup from defaults, an optional YAML file and
// command-line flags, and passed by reference where needed.
package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var log = logrus.WithField("comp", "config")

// Config mirrors the keys the terminal core looks up. Zero values are
// replaced by Default() before a file is applied.
type Config struct {
	// geometry and chrome
	BorderPx    int     `yaml:"border_px"`
	DefaultCols int     `yaml:"default_cols"`
	DefaultRows int     `yaml:"default_rows"`
	Title       string  `yaml:"title"`
	Font        string  `yaml:"font"`
	CwScale     float64 `yaml:"cw_scale"`
	ChScale     float64 `yaml:"ch_scale"`

	// terminal behavior
	TabSpaces      int     `yaml:"tab_spaces"`
	TermName       string  `yaml:"term_name"`
	TermID         string  `yaml:"term_id"`
	CursorType     string  `yaml:"cursor_type"`
	WordDelimiters string  `yaml:"word_delimiters"`
	AllowAltScreen *bool   `yaml:"allow_alt_screen"`
	BlinkRate      float64 `yaml:"blink_rate"`

	// input
	DClickTimeoutMs int    `yaml:"dclick_timeout"`
	TClickTimeoutMs int    `yaml:"tclick_timeout"`
	ForceSelMods    string `yaml:"force_sel_mods"`

	// bell
	BellVolume int `yaml:"bell_volume"`

	// colors; palette entries are "#rrggbb" strings indexed 0-255
	DefaultFg  uint32         `yaml:"default_fg"`
	DefaultBg  uint32         `yaml:"default_bg"`
	DefaultCs  uint32         `yaml:"default_cs"`
	DefaultRcs uint32         `yaml:"default_rcs"`
	BlackIdx   int            `yaml:"black_idx"`
	Colors     map[int]string `yaml:"colors"`

	// child process
	DefaultShell string `yaml:"default_shell"`
	SttyArgs     string `yaml:"stty_args"`

	palette *Palette
}

// Default returns the built-in configuration.
func Default() *Config {
	allowAlt := true
	return &Config{
		BorderPx:        2,
		DefaultCols:     80,
		DefaultRows:     24,
		Title:           "kestrel",
		Font:            "monospace 11",
		CwScale:         1.0,
		ChScale:         1.0,
		TabSpaces:       8,
		TermName:        "xterm-256color",
		TermID:          "\033[?6c",
		CursorType:      "steady block",
		WordDelimiters:  " ",
		AllowAltScreen:  &allowAlt,
		BlinkRate:       0.6,
		DClickTimeoutMs: 300,
		TClickTimeoutMs: 600,
		ForceSelMods:    "shift",
		BellVolume:      0,
		DefaultFg:       7,
		DefaultBg:       0,
		DefaultCs:       7,
		DefaultRcs:      0,
		BlackIdx:        0,
		DefaultShell:    "/bin/sh",
		SttyArgs:        "stty raw pass8 nl -echo -iexten -cstopb 38400",
	}
}

// Load reads path over the defaults. A missing file is not an error;
// a malformed file is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.buildPalette()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("no config file at %s, using defaults", path)
			cfg.buildPalette()
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.buildPalette()
	return cfg, nil
}

// AltScreenAllowed reports whether the child may switch to the
// alternate screen.
func (c *Config) AltScreenAllowed() bool {
	return c.AllowAltScreen == nil || *c.AllowAltScreen
}

func (c *Config) buildPalette() {
	c.palette = NewPalette()
	for idx, spec := range c.Colors {
		if idx < 0 || idx > 255 {
			log.Errorf("palette index %d out of range", idx)
			continue
		}
		rgb, err := ParseHexColor(spec)
		if err != nil {
			log.Errorf("palette entry %d: %v", idx, err)
			continue
		}
		c.palette.Set(idx, rgb)
	}
}

// Palette returns the 256-slot color table with any overrides from the
// colors map applied.
func (c *Config) Palette() *Palette {
	if c.palette == nil {
		c.buildPalette()
	}
	return c.palette
}
