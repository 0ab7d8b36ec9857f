package identity

import (
	"github.com/marcus/offsync/internal/models"
)

// Provider metadata keys consulted when a profile field is absent.
const (
	metaFullName  = "full_name"
	metaName      = "name"
	metaAvatarURL = "avatar_url"
)

// ResolveProfile overlays a profile-store record onto provider metadata. A
// present field wins even when it is the empty string; only an absent (nil)
// field falls back to metadata.
func ResolveProfile(p models.Profile, meta map[string]string) models.Profile {
	return models.Profile{
		FullName:  pick(p.FullName, meta, metaFullName, metaName),
		AvatarURL: pick(p.AvatarURL, meta, metaAvatarURL),
	}
}

func pick(v *string, meta map[string]string, keys ...string) *string {
	if v != nil {
		return models.StringPtr(*v)
	}
	for _, k := range keys {
		if s, ok := meta[k]; ok {
			return models.StringPtr(s)
		}
	}
	return nil
}
