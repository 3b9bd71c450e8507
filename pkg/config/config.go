// Package config loads pdfterm settings from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Color is a 0xRRGGBB value. In YAML it may be written as 0xRRGGBB,
// #RRGGBB or a decimal integer.
type Color int32

func (c *Color) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseColor(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*c = v
	return nil
}

func (c Color) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("#%06X", int32(c)), nil
}

// ParseColor parses 0xRRGGBB, #RRGGBB or decimal notation.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "#"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	if v > 0xFFFFFF {
		return 0, fmt.Errorf("color %q out of range", s)
	}
	return Color(v), nil
}

type Render struct {
	Zoom         float32 `yaml:"zoom"`
	Black        Color   `yaml:"black"`
	White        Color   `yaml:"white"`
	InvertImages bool    `yaml:"invert_images"`
	MaxDimension int     `yaml:"max_dimension"`
}

// Title holds the heuristic thresholds used to pick out headings.
type Title struct {
	Enabled       bool    `yaml:"enabled"`
	StrictRatio   float32 `yaml:"strict_ratio"`
	LooseRatio    float32 `yaml:"loose_ratio"`
	Percentile    float32 `yaml:"percentile"`
	HeightRatio   float32 `yaml:"height_ratio"`
	MaxWidthRatio float32 `yaml:"max_width_ratio"`
	Color         Color   `yaml:"color"`
}

type Engine struct {
	Prerender     int    `yaml:"prerender"`
	PixelRadius   int    `yaml:"pixel_radius"`
	DecodedRadius int    `yaml:"decoded_radius"`
	Protocol      string `yaml:"protocol"`
	AppName       string `yaml:"app_name"`
	FrameBuffer   int    `yaml:"frame_buffer"`
}

type Service struct {
	Workers        int `yaml:"workers"`
	CacheSize      int `yaml:"cache_size"`
	PrefetchRadius int `yaml:"prefetch_radius"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Config struct {
	Render  Render  `yaml:"render"`
	Title   Title   `yaml:"title"`
	Engine  Engine  `yaml:"engine"`
	Service Service `yaml:"service"`
	Log     Log     `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Render: Render{
			Zoom:         1.0,
			Black:        0x000000,
			White:        0xFFFFFF,
			MaxDimension: 10000,
		},
		Title: Title{
			Enabled:       true,
			StrictRatio:   1.8,
			LooseRatio:    1.5,
			Percentile:    0.9,
			HeightRatio:   1.1,
			MaxWidthRatio: 0.7,
			Color:         0x6699CC,
		},
		Engine: Engine{
			Prerender:     3,
			PixelRadius:   5,
			DecodedRadius: 20,
			Protocol:      "auto",
			AppName:       "pdfterm",
			FrameBuffer:   16,
		},
		Service: Service{
			Workers:        2,
			CacheSize:      30,
			PrefetchRadius: 10,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var protocols = map[string]bool{
	"auto": true, "kitty": true, "iterm2": true, "sixel": true, "halfblocks": true,
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Render.Zoom <= 0 {
		errs = append(errs, fmt.Errorf("render.zoom must be positive, got %v", c.Render.Zoom))
	}
	if c.Render.MaxDimension <= 0 {
		errs = append(errs, fmt.Errorf("render.max_dimension must be positive, got %d", c.Render.MaxDimension))
	}
	if c.Title.StrictRatio < c.Title.LooseRatio {
		errs = append(errs, errors.New("title.strict_ratio must not be below title.loose_ratio"))
	}
	if c.Title.Percentile < 0 || c.Title.Percentile > 1 {
		errs = append(errs, fmt.Errorf("title.percentile must be within [0, 1], got %v", c.Title.Percentile))
	}
	if c.Title.MaxWidthRatio <= 0 || c.Title.MaxWidthRatio > 1 {
		errs = append(errs, fmt.Errorf("title.max_width_ratio must be within (0, 1], got %v", c.Title.MaxWidthRatio))
	}
	if c.Engine.Prerender < 1 {
		errs = append(errs, fmt.Errorf("engine.prerender must be at least 1, got %d", c.Engine.Prerender))
	}
	if c.Engine.PixelRadius < 0 || c.Engine.DecodedRadius < 0 {
		errs = append(errs, errors.New("engine radii must not be negative"))
	}
	if !protocols[strings.ToLower(c.Engine.Protocol)] {
		errs = append(errs, fmt.Errorf("engine.protocol %q is not one of auto, kitty, iterm2, sixel, halfblocks", c.Engine.Protocol))
	}
	if c.Engine.FrameBuffer < 1 {
		errs = append(errs, fmt.Errorf("engine.frame_buffer must be at least 1, got %d", c.Engine.FrameBuffer))
	}
	if c.Service.Workers < 1 {
		errs = append(errs, fmt.Errorf("service.workers must be at least 1, got %d", c.Service.Workers))
	}
	if c.Service.CacheSize < 0 || c.Service.PrefetchRadius < 0 {
		errs = append(errs, errors.New("service.cache_size and service.prefetch_radius must not be negative"))
	}
	return errors.Join(errs...)
}
