// Package payload classifies decoded payloads and opens links safely.
package payload

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Kind says what a payload is.
type Kind int

const (
	KindText Kind = iota
	KindLink
)

func (k Kind) String() string {
	if k == KindLink {
		return "link"
	}
	return "text"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classification is the outcome of Classify.
type Classification struct {
	Kind    Kind     `json:"kind"`
	Payload string   `json:"payload"`
	URL     *url.URL `json:"-"`
}

// Link returns the normalized URL for links and "" for text.
func (c Classification) Link() string {
	if c.URL == nil {
		return ""
	}
	return c.URL.String()
}

func (c Classification) String() string {
	if c.Kind == KindLink {
		return fmt.Sprintf("link(%s)", c.Link())
	}
	return fmt.Sprintf("text(%q)", c.Payload)
}

// Schemes whose URLs are meaningless without a host.
var hostRequired = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
	"ftp":   true,
}

// Classify returns a link iff payload is a syntactically valid absolute URL.
// Whitespace or any character outside RFC 3986 makes it text.
func Classify(payload string) Classification {
	if u, ok := parseAbsolute(payload); ok {
		return Classification{Kind: KindLink, Payload: payload, URL: u}
	}
	return Classification{Kind: KindText, Payload: payload}
}

// uriChar reports whether r may appear in a URI reference (RFC 3986
// unreserved, reserved and the percent sign).
func uriChar(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return true
	}
	return strings.ContainsRune("-._~:/?#[]@!$&'()*+,;=%", r)
}

func parseAbsolute(payload string) (*url.URL, bool) {
	s := strings.TrimSpace(payload)
	if s == "" || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return nil, false
	}
	if strings.IndexFunc(s, func(r rune) bool { return !uriChar(r) }) >= 0 {
		return nil, false
	}

	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return nil, false
	}
	if hostRequired[u.Scheme] && u.Host == "" {
		return nil, false
	}
	if u.Host != "" && u.Hostname() == "" {
		return nil, false
	}
	return u, true
}
