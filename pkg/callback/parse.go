// Package callback parses OAuth redirect deliveries: custom-scheme deep
// links, loopback redirect URLs, and manually pasted text.
package callback

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrNoCode means the input carried neither a code nor a provider error.
var ErrNoCode = errors.New("callback carries no authorization code")

// Delivery is the payload extracted from one redirect.
type Delivery struct {
	Code  string
	State string
	// ErrCode/ErrDescription are set when the provider redirected with
	// an error instead of a code (user denied consent, bad request).
	ErrCode        string
	ErrDescription string
}

// Failed reports whether the provider returned an error redirect.
func (d Delivery) Failed() bool { return d.ErrCode != "" }

// Reason returns the human-readable failure text, preferring the
// provider's description over its error code.
func (d Delivery) Reason() string {
	if d.ErrDescription != "" {
		return d.ErrDescription
	}
	return d.ErrCode
}

// ParseURL extracts a Delivery from a redirect URL, custom-scheme or
// http(s) loopback alike.
func ParseURL(raw string) (Delivery, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Delivery{}, err
	}
	q := u.Query()
	d := Delivery{
		Code:           q.Get("code"),
		State:          q.Get("state"),
		ErrCode:        q.Get("error"),
		ErrDescription: q.Get("error_description"),
	}
	if d.Code == "" && !d.Failed() {
		return Delivery{}, ErrNoCode
	}
	return d, nil
}

// IsScheme reports whether raw is a URL for the given custom scheme.
func IsScheme(raw, scheme string) bool {
	return strings.HasPrefix(raw, scheme+"://")
}

var codeParam = regexp.MustCompile(`[?&]code=([^&\s]+)`)

// bareCodePrefix marks tokens the identity provider issues directly;
// pasted text starting with it is accepted as a raw code.
const bareCodePrefix = "M."

// ExtractCode pulls an authorization code out of manually pasted text: a
// full redirect URL, any fragment containing a code= parameter, or a bare
// code token.
func ExtractCode(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoCode
	}

	if m := codeParam.FindStringSubmatch(text); m != nil {
		if decoded, err := url.QueryUnescape(m[1]); err == nil {
			return decoded, nil
		}
		return m[1], nil
	}

	// A bare code: provider-prefixed, or long enough that it cannot be
	// anything the user typed by hand.
	if strings.HasPrefix(text, bareCodePrefix) || len(text) > 100 {
		return text, nil
	}
	return "", ErrNoCode
}
