package urlutil

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
)

// GravatarURL builds a gravatar avatar URL for the given email address.
// def selects the fallback image ("blank", "identicon", "404", ...) and
// rating caps the allowed rating ("g", "pg", ...); either may be empty to
// use gravatar's own defaults. The email is lowercased and trimmed before
// hashing, per the gravatar spec.
func GravatarURL(email, def, rating string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))

	u := &url.URL{
		Scheme: "https",
		Host:   "www.gravatar.com",
		Path:   "/avatar/" + hex.EncodeToString(sum[:]),
	}

	q := url.Values{}
	if def != "" {
		q.Set("d", def)
	}
	if rating != "" {
		q.Set("r", rating)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
