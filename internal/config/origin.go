package config

import (
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// OriginPolicy is a parsed ALLOWED_ORIGINS list. The entry "*" admits any
// well-formed origin.
type OriginPolicy struct {
	any     bool
	list    []string
	allowed map[string]struct{}
	ignored []string
}

// ParseOriginPolicy canonicalizes entries. Entries without a scheme and
// host are kept aside as ignored.
func ParseOriginPolicy(entries []string) OriginPolicy {
	p := OriginPolicy{allowed: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		origin, ok := CanonicalOrigin(entry)
		if !ok {
			p.ignored = append(p.ignored, entry)
			continue
		}
		if _, dup := p.allowed[origin]; dup {
			continue
		}
		p.allowed[origin] = struct{}{}
		p.list = append(p.list, origin)
	}
	return p
}

// Allows reports whether origin is well formed and listed.
func (p OriginPolicy) Allows(origin string) bool {
	canonical, ok := CanonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	_, ok = p.allowed[canonical]
	return ok
}

// CanonicalOrigin reduces origin to lowercase scheme://host[:port]. Paths
// are dropped and the scheme's default port is elided.
func CanonicalOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host += ":" + port
	}
	return scheme + "://" + host, true
}
