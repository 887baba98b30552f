package bridge

import (
	"context"

	"github.com/Paranoid-AF/passbridge/autofill"
)

// CredentialStore reads and writes persisted logins. Implementations provide
// their own consistency; each call is treated as atomic.
type CredentialStore interface {
	// GetCredentials returns the logins that belong to the site at url.
	GetCredentials(ctx context.Context, url string) ([]autofill.Credential, error)
	// GetCredentialsWithID returns the login with id, or nil if it does not exist.
	GetCredentialsWithID(ctx context.Context, id string) (*autofill.Credential, error)
	// UpdateCredentials overwrites the login with c.ID and returns what was stored.
	UpdateCredentials(ctx context.Context, c autofill.Credential) (*autofill.Credential, error)
	// DeleteCredentials removes the login with id.
	DeleteCredentials(ctx context.Context, id string) error
}

// CapabilityChecker gates autofill per URL.
type CapabilityChecker interface {
	CanInject(ctx context.Context, url string) bool
	CanSave(ctx context.Context, url string) bool
}

// URLProvider reports the URL of the page the bridge serves.
type URLProvider interface {
	// CurrentURL returns false when the host has no URL for the page.
	CurrentURL(ctx context.Context) (string, bool)
}

// TrackingIDMonitor remembers, per page instance, the login auto-saved there.
type TrackingIDMonitor interface {
	TrackingID(pageID string) (string, bool)
	ClearTrackingID(pageID string)
}

// Callback receives decisions that the UI layer presents to the user.
// Methods are called from bridge tasks and must not block for long.
type Callback interface {
	OnCredentialsAvailable(url string, creds []autofill.Credential, trigger autofill.Trigger)
	NoCredentialsAvailable(url string)
	OnGeneratedPasswordAvailable(url, username, password string)
	OnCredentialsAvailableToSave(url string, c autofill.Credential)
	OnCredentialsSaved(c autofill.Credential)
}

// MessagePoster delivers serialized responses to the page script.
type MessagePoster interface {
	PostMessage(text string)
}

// Resolver decides the actions for a form submission. autofill.DecideActions
// is the production resolver.
type Resolver func(existing *autofill.Credential, submitted autofill.Credential, autogenerated bool) []autofill.Action
