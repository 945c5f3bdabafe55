package urlutil

import (
	"testing"
)

func TestDiscordAvatarURL(t *testing.T) {
	tests := []struct {
		name       string
		discordID  string
		avatarHash string
		expected   string
	}{
		{
			name:       "custom avatar",
			discordID:  "123456789012345678",
			avatarHash: "user_hash_456",
			expected:   "https://cdn.discordapp.com/avatars/123456789012345678/user_hash_456.png",
		},
		{
			name:       "animated avatar uses gif endpoint",
			discordID:  "123456789012345678",
			avatarHash: "a_fancy_hash",
			expected:   "https://cdn.discordapp.com/avatars/123456789012345678/a_fancy_hash.gif",
		},
		{
			name:       "default avatar when no hash",
			discordID:  "123456789012345678",
			avatarHash: "",
			expected:   "https://cdn.discordapp.com/embed/avatars/2.png", // (123456789012345678 >> 22) % 6 = 2
		},
		{
			name:       "default avatar calculation - ID results in index 0",
			discordID:  "4194304", // (4194304 >> 22) % 6 = 0
			avatarHash: "",
			expected:   "https://cdn.discordapp.com/embed/avatars/0.png",
		},
		{
			name:       "default avatar calculation - ID results in index 5",
			discordID:  "25165824", // (25165824 >> 22) % 6 = 5
			avatarHash: "",
			expected:   "https://cdn.discordapp.com/embed/avatars/5.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DiscordAvatarURL(tt.discordID, tt.avatarHash)
			if result != tt.expected {
				t.Errorf("DiscordAvatarURL() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestGravatarURL(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		def      string
		rating   string
		expected string
	}{
		{
			name:     "default and rating set",
			email:    "a@example.com",
			def:      "blank",
			rating:   "g",
			expected: "https://www.gravatar.com/avatar/b418773a2c51fb9777a1648346fa7394?d=blank&r=g",
		},
		{
			name:     "email is normalized before hashing",
			email:    "  Jane.Doe@Example.COM ",
			def:      "identicon",
			rating:   "",
			expected: "https://www.gravatar.com/avatar/0cba00ca3da1b283a57287bcceb17e35?d=identicon",
		},
		{
			name:     "no options",
			email:    "a@example.com",
			def:      "",
			rating:   "",
			expected: "https://www.gravatar.com/avatar/b418773a2c51fb9777a1648346fa7394",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GravatarURL(tt.email, tt.def, tt.rating)
			if result != tt.expected {
				t.Errorf("GravatarURL() = %v, want %v", result, tt.expected)
			}
		})
	}
}
