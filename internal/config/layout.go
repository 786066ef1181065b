package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// UserIDPlaceholder is substituted with the user identifier in layout probe templates.
const UserIDPlaceholder = "{user_id}"

// VoiceLayout is the ordered list of storage paths probed for a voice identity record.
// The first probe is the primary record; the rest are legacy placements tried in order.
type VoiceLayout struct {
	Version int      `mapstructure:"version"`
	Probes  []string `mapstructure:"probes"`
}

// DefaultVoiceLayout returns the built-in probe order.
func DefaultVoiceLayout() VoiceLayout {
	return VoiceLayout{
		Version: 1,
		Probes: []string{
			"{user_id}/voice_id/voice_id.json",
			"{user_id}_voice_id.json",
			"voices/{user_id}_voice_id.json",
			"storage/voices/{user_id}_voice_id.json",
		},
	}
}

// Paths expands every probe template for userID, preserving order.
func (l VoiceLayout) Paths(userID string) []string {
	paths := make([]string, 0, len(l.Probes))
	for _, probe := range l.Probes {
		paths = append(paths, strings.ReplaceAll(probe, UserIDPlaceholder, userID))
	}
	return paths
}

// Validate rejects layouts that could never resolve a user-specific record.
func (l VoiceLayout) Validate() error {
	if l.Version < 1 {
		return fmt.Errorf("voice layout: version must be >= 1, got %d", l.Version)
	}
	if len(l.Probes) == 0 {
		return fmt.Errorf("voice layout: at least one probe path is required")
	}
	for i, probe := range l.Probes {
		if !strings.Contains(probe, UserIDPlaceholder) {
			return fmt.Errorf("voice layout: probe %d (%q) lacks %s", i, probe, UserIDPlaceholder)
		}
	}
	return nil
}

// LoadVoiceLayout reads a layout file (YAML, JSON or TOML, by extension). An empty
// path yields DefaultVoiceLayout.
func LoadVoiceLayout(path string) (VoiceLayout, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultVoiceLayout(), nil
	}

	defaults := DefaultVoiceLayout()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("version", defaults.Version)
	v.SetDefault("probes", defaults.Probes)

	if err := v.ReadInConfig(); err != nil {
		return VoiceLayout{}, fmt.Errorf("read voice layout %s: %w", path, err)
	}

	var layout VoiceLayout
	if err := v.Unmarshal(&layout); err != nil {
		return VoiceLayout{}, fmt.Errorf("decode voice layout %s: %w", path, err)
	}
	if err := layout.Validate(); err != nil {
		return VoiceLayout{}, err
	}
	return layout, nil
}
