package capture

import "fmt"

// Preset names for common resolutions
const (
	PresetDefault = "default"
	Preset480p    = "480p"
	Preset720p    = "720p"
	Preset1080p   = "1080p"
)

type resolution struct {
	width, height, framerate int
}

var presets = map[string]resolution{
	PresetDefault: {1280, 720, 30},
	Preset480p:    {640, 480, 30},
	Preset720p:    {1280, 720, 30},
	// Dense codes at a distance; decoding is slower so keep the rate down.
	Preset1080p: {1920, 1080, 15},
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetDefault, Preset480p, Preset720p, Preset1080p}
}

// ApplyPreset overwrites the resolution and frame rate with a named preset.
func (c *Config) ApplyPreset(name string) error {
	p, ok := presets[name]
	if !ok {
		return fmt.Errorf("unknown preset: %s", name)
	}
	c.Width, c.Height, c.Framerate = p.width, p.height, p.framerate
	return nil
}
