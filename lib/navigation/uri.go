package navigation

import (
	"net/url"
	"path"
	"strings"
)

// NormalizeURL applies the usual syntax-based URI normalization: lower-case
// scheme and host, default ports removed, an empty path becomes "/", and dot
// segments are resolved. Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Opaque != "" {
		return u.String()
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host

	if u.Host != "" {
		switch {
		case u.Path == "":
			u.Path = "/"
		default:
			// clean the escaped form so encoded slashes stay encoded
			escaped := u.EscapedPath()
			cleaned := path.Clean(escaped)
			if strings.HasSuffix(escaped, "/") && cleaned != "/" {
				cleaned += "/"
			}
			if p, err := url.PathUnescape(cleaned); err == nil {
				u.Path = p
				u.RawPath = cleaned
			}
		}
	}
	return u.String()
}

func isDataURI(uri string) bool {
	return strings.HasPrefix(strings.ToLower(uri), "data:")
}

// isBrowserErrorPage matches the internal pages browsers show when a
// navigation fails at the network level.
func isBrowserErrorPage(uri string) bool {
	return strings.HasPrefix(uri, "chrome-error://") ||
		strings.HasPrefix(uri, "about:neterror") ||
		strings.HasPrefix(uri, "about:certerror")
}
