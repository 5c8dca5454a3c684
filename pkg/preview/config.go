package preview

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/matzehuels/diagramzoom/pkg/errors"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

// ControlsMode says when on-screen controls are shown.
type ControlsMode string

const (
	ControlsAlways ControlsMode = "always"
	ControlsHover  ControlsMode = "hover"
	ControlsNever  ControlsMode = "never"
)

// Config is the per-diagram configuration blob carried in a container's
// data-config attribute.
type Config struct {
	Enabled              bool         `json:"enabled" yaml:"enabled" koanf:"enabled"`
	MouseWheelZoom       bool         `json:"mouseWheelZoom" yaml:"mouse_wheel_zoom" koanf:"mouse_wheel_zoom"`
	DoubleClickZoom      bool         `json:"doubleClickZoom" yaml:"double_click_zoom" koanf:"double_click_zoom"`
	ShowControls         ControlsMode `json:"showControls" yaml:"show_controls" koanf:"show_controls"`
	MinZoom              float64      `json:"minZoom" yaml:"min_zoom" koanf:"min_zoom"`
	MaxZoom              float64      `json:"maxZoom" yaml:"max_zoom" koanf:"max_zoom"`
	ZoomSensitivity      float64      `json:"zoomSensitivity" yaml:"zoom_sensitivity" koanf:"zoom_sensitivity"`
	LightTheme           string       `json:"lightTheme" yaml:"light_theme" koanf:"light_theme"`
	DarkTheme            string       `json:"darkTheme" yaml:"dark_theme" koanf:"dark_theme"`
	ShowZoomLevel        bool         `json:"showZoomLevel" yaml:"show_zoom_level" koanf:"show_zoom_level"`
	ShowFullscreenButton bool         `json:"showFullscreenButton" yaml:"show_fullscreen_button" koanf:"show_fullscreen_button"`
	ShowExportButton     bool         `json:"showExportButton" yaml:"show_export_button" koanf:"show_export_button"`
	ExportScale          float64      `json:"exportScale" yaml:"export_scale" koanf:"export_scale"`
}

// DefaultConfig returns the configuration used when a container carries
// no blob, and the base every blob is overlaid on.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MouseWheelZoom:       true,
		DoubleClickZoom:      true,
		ShowControls:         ControlsHover,
		MinZoom:              0.1,
		MaxZoom:              20,
		ZoomSensitivity:      0.3,
		LightTheme:           "default",
		DarkTheme:            "dark",
		ShowZoomLevel:        true,
		ShowFullscreenButton: true,
		ShowExportButton:     true,
		ExportScale:          2,
	}
}

// ParseConfig overlays the JSON blob onto base. Keys missing from the blob
// keep the base value. On malformed JSON it returns base and an error the
// caller is expected to log.
func ParseConfig(blob string, base Config) (Config, error) {
	if blob == "" {
		return base, nil
	}
	cfg := base
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return base, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse diagram config")
	}
	return cfg, nil
}

// Validate reports values the view-transform engine would reject.
func (c Config) Validate() error {
	switch c.ShowControls {
	case ControlsAlways, ControlsHover, ControlsNever:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "showControls must be always, hover or never, got %q", c.ShowControls)
	}
	if !positive(c.MinZoom) || !positive(c.MaxZoom) || c.MaxZoom < c.MinZoom {
		return errors.New(errors.ErrCodeInvalidConfig, "invalid zoom bounds [%v, %v]", c.MinZoom, c.MaxZoom)
	}
	if !positive(c.ZoomSensitivity) {
		return errors.New(errors.ErrCodeInvalidConfig, "zoomSensitivity must be positive, got %v", c.ZoomSensitivity)
	}
	if !positive(c.ExportScale) || c.ExportScale > 10 {
		return errors.New(errors.ErrCodeInvalidConfig, "exportScale must be in (0, 10], got %v", c.ExportScale)
	}
	return nil
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Theme picks the renderer theme for the document's dark flag.
func (c Config) Theme(dark bool) string {
	if dark {
		return c.DarkTheme
	}
	return c.LightTheme
}

// PanZoomOptions translates the blob into controller options. Button
// zooms stay available when wheel zoom is off.
func (c Config) PanZoomOptions() panzoom.Options {
	return panzoom.Options{
		ZoomEnabled:            c.MouseWheelZoom,
		PanEnabled:             true,
		FitOnInit:              true,
		CenterOnInit:           true,
		MinZoom:                c.MinZoom,
		MaxZoom:                c.MaxZoom,
		ZoomSensitivity:        c.ZoomSensitivity,
		DoubleClickZoomEnabled: c.DoubleClickZoom,
		MouseWheelZoomEnabled:  c.MouseWheelZoom,
	}
}

// JSON serializes the blob for a data-config attribute.
func (c Config) JSON() string {
	b, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("preview: marshal config: %v", err))
	}
	return string(b)
}
