// Package autofill holds the credential model, the script-bridge wire codec and
// the resolver that decides what to do with a submitted login.
package autofill

import (
	"net/url"
	"strings"
)

// Credential is a login as seen by the bridge.
// It is constructed from a store read or from a parsed form submission and is
// never mutated in place; persisted copies belong to the credential store.
type Credential struct {
	// ID is the store identifier. Empty means the credential is not persisted.
	ID string `json:"id,omitempty"`
	// Domain is the owning site, usually the page URL the login was captured on.
	Domain string `json:"domain"`
	// Username may be empty when the page only submitted a password.
	Username string `json:"username,omitempty"`
	// Password may be empty when the page only submitted a username.
	Password string `json:"password,omitempty"`
	// Title is a display name chosen by the user.
	Title string `json:"title,omitempty"`
}

// SameLogin reports whether c and other carry the same username and password.
// Identity, domain and title are ignored.
func (c Credential) SameLogin(other Credential) bool {
	return c.Username == other.Username && c.Password == other.Password
}

// HasUsername reports whether the username is non-blank.
func (c Credential) HasUsername() bool {
	return !isBlank(c.Username)
}

// HasPassword reports whether the password is non-blank.
func (c Credential) HasPassword() bool {
	return !isBlank(c.Password)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// FilterSubType keeps only the credentials that have a non-blank value in the
// field the page asked for. The input slice is not modified.
func FilterSubType(creds []Credential, sub SubType) []Credential {
	out := make([]Credential, 0, len(creds))
	for _, c := range creds {
		switch sub {
		case SubTypeUsername:
			if !c.HasUsername() {
				continue
			}
		case SubTypePassword:
			if !c.HasPassword() {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// Host returns the lower-cased host name of a page URL or bare host, without
// port or trailing dot. Input without a scheme is read as https, so
// "bank.example/login" and "bank.example:8443" both yield "bank.example".
// It returns "" when no host can be found.
func Host(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}
