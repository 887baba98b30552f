// Package passbridge defines the envelope types exchanged with the passbridge
// daemon. Messages are JSON-encoded and sent over a Unix domain socket, one per
// line. Each connection is one page instance.
package passbridge

import "encoding/json"

// Message types sent from the host to the daemon.
const (
	// TypeNavigate reports the URL the page is currently showing.
	TypeNavigate = "navigate"
	// TypeGetAutofillData carries a getAutofillData request from the page script.
	TypeGetAutofillData = "getAutofillData"
	// TypeStoreFormData carries a storeFormData request from the page script.
	TypeStoreFormData = "storeFormData"
	// TypeCancelRetrievingStoredLogins cancels the fetch in flight.
	TypeCancelRetrievingStoredLogins = "cancelRetrievingStoredLogins"
	// TypeInjectCredentials answers a fetch with the login the user picked.
	TypeInjectCredentials = "injectCredentials"
	// TypeInjectNoCredentials answers a fetch with nothing.
	TypeInjectNoCredentials = "injectNoCredentials"
	// TypeAcceptGeneratedPassword tells the page to keep its generated password.
	TypeAcceptGeneratedPassword = "acceptGeneratedPassword"
	// TypeRejectGeneratedPassword tells the page to discard its generated password.
	TypeRejectGeneratedPassword = "rejectGeneratedPassword"
	// TypeSaveCredentials stores a login the user agreed to save.
	TypeSaveCredentials = "saveCredentials"
)

// Event types sent from the daemon to the host.
const (
	// EventAttached is the first event on a connection and carries the page id.
	EventAttached = "attached"
	// EventResponse carries a serialized response for the page script.
	EventResponse = "response"
	// EventCallback carries a decision for the UI.
	EventCallback = "callback"
	// EventSaved acknowledges a saveCredentials message.
	EventSaved = "saved"
	// EventError reports an envelope the daemon could not handle.
	EventError = "error"
)

// Callback names carried by EventCallback.
const (
	CallbackCredentialsAvailable       = "onCredentialsAvailable"
	CallbackNoCredentialsAvailable     = "noCredentialsAvailable"
	CallbackGeneratedPasswordAvailable = "onGeneratedPasswordAvailable"
	CallbackCredentialsAvailableToSave = "onCredentialsAvailableToSave"
	CallbackCredentialsSaved           = "onCredentialsSaved"
)

// Login is a credential as it appears on the wire.
type Login struct {
	ID       string `json:"id,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	Title    string `json:"title,omitempty"`
}

// Message is sent from the host to the daemon.
type Message struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`
	// URL is set for navigate messages.
	URL string `json:"url,omitempty"`
	// Data is the raw page-script request for getAutofillData and storeFormData.
	Data json.RawMessage `json:"data,omitempty"`
	// Login is set for injectCredentials and saveCredentials.
	Login *Login `json:"login,omitempty"`
	// Autogenerated marks a saved login whose password came from the generator.
	// The daemon then tracks it as the page's auto-saved login.
	Autogenerated bool `json:"autogenerated,omitempty"`
}

// Event is sent from the daemon to the host.
type Event struct {
	// Type is one of the Event* constants.
	Type string `json:"type"`
	// PageID is set on the attached event.
	PageID string `json:"page_id,omitempty"`
	// Name is the callback name for callback events.
	Name string `json:"name,omitempty"`
	// URL is the page URL the callback refers to.
	URL string `json:"url,omitempty"`
	// Data is the serialized response for response events.
	Data json.RawMessage `json:"data,omitempty"`
	// Logins lists available or saved logins for callback and saved events.
	Logins []Login `json:"logins,omitempty"`
	// Trigger echoes the request trigger for onCredentialsAvailable.
	Trigger string `json:"trigger,omitempty"`
	// Username and Password carry the generator payload for onGeneratedPasswordAvailable.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Error is set on error events.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the host.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "invalid_message", "unknown_type").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}
