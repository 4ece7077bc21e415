package encoding

import (
	"fmt"
	"slices"
	"strings"

	"mediaconv/internal/services"
)

// DefaultProfile is used when neither the item nor the config names a profile.
const DefaultProfile = "h264"

// Profile describes one encoder preset.
type Profile struct {
	Name         string
	VideoCodec   string
	CRF          int
	Preset       string
	AudioCodec   string
	AudioBitrate string
	Container    string
}

var builtinProfiles = map[string]Profile{
	"h264": {
		Name:         "h264",
		VideoCodec:   "libx264",
		CRF:          23,
		Preset:       "medium",
		AudioCodec:   "aac",
		AudioBitrate: "160k",
		Container:    "mp4",
	},
	"h265": {
		Name:         "h265",
		VideoCodec:   "libx265",
		CRF:          28,
		Preset:       "medium",
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		Container:    "mkv",
	},
	"av1": {
		Name:         "av1",
		VideoCodec:   "libsvtav1",
		CRF:          35,
		Preset:       "8",
		AudioCodec:   "libopus",
		AudioBitrate: "128k",
		Container:    "mkv",
	},
}

// LookupProfile returns the built-in profile with the given name.
func LookupProfile(name string) (Profile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	profile, ok := builtinProfiles[key]
	if !ok {
		return Profile{}, services.Wrap(
			services.ErrValidation,
			"encoding",
			"select profile",
			fmt.Sprintf("Unknown encoding profile %q (available: %s)", name, strings.Join(ProfileNames(), ", ")),
			nil,
		)
	}
	return profile, nil
}

// ProfileNames lists the built-in profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
