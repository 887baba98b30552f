package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	passbridge "github.com/Paranoid-AF/passbridge"
	"github.com/Paranoid-AF/passbridge/autofill"
)

const masked = "********"

type loginEntry struct {
	ID       string `toml:"id,omitempty"`
	Domain   string `toml:"domain,omitempty"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Title    string `toml:"title,omitempty"`
}

type eventEntry struct {
	Timestamp string       `toml:"timestamp"`
	Type      string       `toml:"type"`
	PageID    string       `toml:"page_id,omitempty"`
	Name      string       `toml:"name,omitempty"`
	URL       string       `toml:"url,omitempty"`
	Trigger   string       `toml:"trigger,omitempty"`
	Username  string       `toml:"username,omitempty"`
	Password  string       `toml:"password,omitempty"`
	Data      string       `toml:"data,omitempty"`
	ErrorCode string       `toml:"error_code,omitempty"`
	ErrorMsg  string       `toml:"error_message,omitempty"`
	Logins    []loginEntry `toml:"logins,omitempty"`
}

// writeEntry writes ev to w as one TOML document. Secrets are masked unless
// showSecrets is set.
func writeEntry(w io.Writer, ev passbridge.Event, now time.Time, showSecrets bool) error {
	entry := eventEntry{
		Timestamp: now.Format(time.RFC3339),
		Type:      ev.Type,
		PageID:    ev.PageID,
		Name:      ev.Name,
		URL:       ev.URL,
		Trigger:   ev.Trigger,
		Username:  ev.Username,
		Password:  secret(ev.Password, showSecrets),
	}
	if len(ev.Data) > 0 {
		entry.Data = string(ev.Data)
		if !showSecrets {
			entry.Data = autofill.RedactText(entry.Data)
		}
	}
	if ev.Error != nil {
		entry.ErrorCode = ev.Error.Code
		entry.ErrorMsg = ev.Error.Message
	}
	for _, l := range ev.Logins {
		entry.Logins = append(entry.Logins, loginEntry{
			ID:       l.ID,
			Domain:   l.Domain,
			Username: l.Username,
			Password: secret(l.Password, showSecrets),
			Title:    l.Title,
		})
	}

	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	if err := toml.NewEncoder(w).Encode(struct {
		Event eventEntry `toml:"event"`
	}{entry}); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

func secret(s string, show bool) string {
	if s == "" || show {
		return s
	}
	return masked
}

// summarize renders ev as a short line for the terminal.
func summarize(ev passbridge.Event) string {
	switch ev.Type {
	case passbridge.EventAttached:
		return "attached as page " + ev.PageID
	case passbridge.EventError:
		if ev.Error != nil {
			return fmt.Sprintf("error [%s]: %s", ev.Error.Code, ev.Error.Message)
		}
		return "error"
	case passbridge.EventSaved:
		if len(ev.Logins) == 1 {
			return fmt.Sprintf("saved %s as %s", ev.Logins[0].Username, ev.Logins[0].ID)
		}
		return "saved"
	case passbridge.EventResponse:
		resp, err := autofill.ParseResponse(string(ev.Data))
		if err != nil {
			return "response (unreadable): " + err.Error()
		}
		if resp.HasCredentials() {
			return "response: credentials for " + resp.Username
		}
		return "response: " + resp.Action
	case passbridge.EventCallback:
		var b strings.Builder
		b.WriteString(ev.Name)
		switch ev.Name {
		case passbridge.CallbackCredentialsAvailable:
			fmt.Fprintf(&b, " (%s)", ev.Trigger)
			for i, l := range ev.Logins {
				fmt.Fprintf(&b, "\n  %d. %s", i+1, loginLabel(l))
			}
		case passbridge.CallbackGeneratedPasswordAvailable:
			fmt.Fprintf(&b, " for %q", ev.Username)
		case passbridge.CallbackCredentialsAvailableToSave, passbridge.CallbackCredentialsSaved:
			for _, l := range ev.Logins {
				fmt.Fprintf(&b, ": %s", loginLabel(l))
			}
		}
		return b.String()
	}
	return ev.Type
}

func loginLabel(l passbridge.Login) string {
	name := l.Username
	if name == "" {
		name = "(no username)"
	}
	if l.Title != "" {
		name = fmt.Sprintf("%s [%s]", name, l.Title)
	}
	if l.Domain != "" {
		name += " @ " + l.Domain
	}
	return name
}
