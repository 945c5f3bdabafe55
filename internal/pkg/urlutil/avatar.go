package urlutil

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordAvatarURL builds the CDN URL for a Discord user's avatar.
// Animated avatars (hash prefixed "a_") resolve to the gif endpoint. When the
// user has no custom avatar the default embed avatar is used; Discord derives
// its index from the user ID snowflake.
func DiscordAvatarURL(discordID, avatarHash string) string {
	if avatarHash != "" {
		if strings.HasPrefix(avatarHash, "a_") {
			return discordgo.EndpointUserAvatarAnimated(discordID, avatarHash)
		}
		return discordgo.EndpointUserAvatar(discordID, avatarHash)
	}

	id, _ := strconv.ParseInt(discordID, 10, 64)
	return discordgo.EndpointDefaultUserAvatar(int((id >> 22) % 6))
}
