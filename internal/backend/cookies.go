package backend

import (
	"net/http"
	"strings"
)

// ParseSetCookie splits a raw Set-Cookie header into name=value pairs. Commas only separate
// cookies when they are followed by another name=value pair, so Expires dates survive intact.
// Attributes after the first ';' of each cookie are dropped.
func ParseSetCookie(header string) []string {
	if strings.TrimSpace(header) == "" {
		return []string{}
	}
	pairs := make([]string, 0, 4)
	for _, part := range splitCookieList(header) {
		if idx := strings.IndexByte(part, ';'); idx >= 0 {
			part = part[:idx]
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pairs = append(pairs, part)
	}
	return pairs
}

// FilterCookieHeader reduces a raw Set-Cookie style string to "name=value; name2=value2".
func FilterCookieHeader(raw string) string {
	return strings.Join(ParseSetCookie(raw), "; ")
}

// MergeCookiePairs folds new name=value pairs into an existing jar. Later pairs win on name
// collisions. Names keep the position of their first appearance.
func MergeCookiePairs(jar string, pairs []string) string {
	names := make([]string, 0, 8)
	values := make(map[string]string, 8)
	put := func(entry string) {
		name, value, _ := strings.Cut(entry, "=")
		if _, ok := values[name]; !ok {
			names = append(names, name)
		}
		values[name] = value
	}

	for _, entry := range strings.Split(jar, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		put(entry)
	}
	for _, entry := range pairs {
		if entry == "" {
			continue
		}
		put(entry)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+"="+values[name])
	}
	return strings.Join(out, "; ")
}

// SetCookieHeader joins every Set-Cookie line of a response the way a fetch client exposes it.
func SetCookieHeader(header http.Header) string {
	if header == nil {
		return ""
	}
	return strings.Join(header.Values("Set-Cookie"), ", ")
}

// CookieHeader renders a stored jar as the value of an outgoing Cookie header.
func CookieHeader(jar string) string {
	entries := make([]string, 0, 8)
	for _, entry := range strings.Split(jar, ";") {
		if filtered := FilterCookieHeader(entry); filtered != "" {
			entries = append(entries, filtered)
		}
	}
	return strings.Join(entries, "; ")
}

func splitCookieList(header string) []string {
	parts := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] != ',' {
			continue
		}
		if followedByPair(header[i+1:]) {
			parts = append(parts, header[start:i])
			start = i + 1
		}
	}
	return append(parts, header[start:])
}

// followedByPair reports whether rest starts with an optional run of whitespace followed by
// name=value, where the name holds no ';' or '=' and the value is at least one non-';' byte.
func followedByPair(rest string) bool {
	idx := strings.IndexAny(rest, ";=")
	if idx <= 0 || rest[idx] != '=' {
		return false
	}
	return idx+1 < len(rest) && rest[idx+1] != ';'
}
