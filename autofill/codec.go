package autofill

import (
	"encoding/json"
	"errors"
	"strings"
)

// MainType is the top-level category of an autofill data request.
type MainType string

const (
	MainTypeCredentials MainType = "credentials"
	// MainTypeUnknown is any main type this bridge does not handle.
	MainTypeUnknown MainType = ""
)

// SubType selects which credential field the page wants filled.
type SubType string

const (
	SubTypeUsername SubType = "username"
	SubTypePassword SubType = "password"
)

// Trigger records what caused the page to ask for data.
type Trigger string

const (
	TriggerUserInitiated Trigger = "userInitiated"
	TriggerAutoprompt    Trigger = "autoprompt"
)

// GeneratedPassword is a password the page-side generator offers for use.
type GeneratedPassword struct {
	Value    string `json:"value"`
	Username string `json:"username,omitempty"`
}

// AutofillRequest is a decoded getAutofillData message.
type AutofillRequest struct {
	MainType MainType
	// RawMainType keeps the original value when MainType is MainTypeUnknown.
	RawMainType       string
	SubType           SubType
	Trigger           Trigger
	GeneratedPassword *GeneratedPassword
}

// GeneratedPasswordAvailable reports whether the page is offering a generated
// password for a password field.
func (r AutofillRequest) GeneratedPasswordAvailable() bool {
	return r.MainType == MainTypeCredentials &&
		r.SubType == SubTypePassword &&
		r.GeneratedPassword != nil &&
		r.GeneratedPassword.Value != ""
}

// SubmittedCredentials is the credentials member of a storeFormData message.
type SubmittedCredentials struct {
	Username      string
	Password      string
	Autogenerated bool
}

// StoreFormDataRequest is a decoded storeFormData message.
type StoreFormDataRequest struct {
	// Credentials is nil when the page submitted no login form.
	Credentials *SubmittedCredentials
}

// Validate returns ErrValidation when there is no username and no password.
func (r StoreFormDataRequest) Validate() error {
	if r.Credentials == nil {
		return ErrValidation
	}
	if isBlank(r.Credentials.Username) && isBlank(r.Credentials.Password) {
		return ErrValidation
	}
	return nil
}

// Credential converts the submission into a Credential owned by domain.
func (r StoreFormDataRequest) Credential(domain string) Credential {
	if r.Credentials == nil {
		return Credential{Domain: domain}
	}
	return Credential{
		Domain:   domain,
		Username: r.Credentials.Username,
		Password: r.Credentials.Password,
	}
}

type autofillRequestJSON struct {
	MainType          string             `json:"mainType"`
	SubType           string             `json:"subType"`
	Trigger           string             `json:"trigger"`
	GeneratedPassword *GeneratedPassword `json:"generatedPassword,omitempty"`
}

type storeFormDataJSON struct {
	Credentials *struct {
		Username      *string `json:"username"`
		Password      *string `json:"password"`
		Autogenerated bool    `json:"autogenerated"`
	} `json:"credentials"`
}

// ParseAutofillDataRequest decodes a getAutofillData message.
// Malformed JSON and unknown subType or trigger values yield a *ParseError.
// An unrecognised mainType is not an error; it decodes to MainTypeUnknown.
func ParseAutofillDataRequest(text string) (AutofillRequest, error) {
	const kind = "getAutofillData"

	var raw autofillRequestJSON
	if err := decodeObject(text, &raw); err != nil {
		return AutofillRequest{}, &ParseError{Kind: kind, Err: err}
	}

	req := AutofillRequest{
		RawMainType:       raw.MainType,
		GeneratedPassword: raw.GeneratedPassword,
	}
	if MainType(raw.MainType) != MainTypeCredentials {
		req.MainType = MainTypeUnknown
		req.SubType = SubType(raw.SubType)
		req.Trigger = Trigger(raw.Trigger)
		return req, nil
	}
	req.MainType = MainTypeCredentials

	switch sub := SubType(raw.SubType); sub {
	case SubTypeUsername, SubTypePassword:
		req.SubType = sub
	default:
		return AutofillRequest{}, &ParseError{Kind: kind, Field: "subType"}
	}

	switch trig := Trigger(raw.Trigger); trig {
	case TriggerUserInitiated, TriggerAutoprompt:
		req.Trigger = trig
	default:
		return AutofillRequest{}, &ParseError{Kind: kind, Field: "trigger"}
	}

	return req, nil
}

// ParseStoreFormDataRequest decodes a storeFormData message. It does not
// validate the submission; call Validate for that.
func ParseStoreFormDataRequest(text string) (StoreFormDataRequest, error) {
	var raw storeFormDataJSON
	if err := decodeObject(text, &raw); err != nil {
		return StoreFormDataRequest{}, &ParseError{Kind: "storeFormData", Err: err}
	}
	if raw.Credentials == nil {
		return StoreFormDataRequest{}, nil
	}

	sub := &SubmittedCredentials{Autogenerated: raw.Credentials.Autogenerated}
	if raw.Credentials.Username != nil {
		sub.Username = *raw.Credentials.Username
	}
	if raw.Credentials.Password != nil {
		sub.Password = *raw.Credentials.Password
	}
	return StoreFormDataRequest{Credentials: sub}, nil
}

// decodeObject rejects anything that is not a single JSON object.
func decodeObject(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return errors.New("expected a JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

const responseType = "getAutofillDataResponse"

// Actions carried by the non-credential responses.
const (
	ActionNone                    = "none"
	ActionAcceptGeneratedPassword = "acceptGeneratedPassword"
	ActionRejectGeneratedPassword = "rejectGeneratedPassword"
)

type responseJSON struct {
	Type    string          `json:"type"`
	Success responseSuccess `json:"success"`
}

type responseSuccess struct {
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
	Action   string  `json:"action,omitempty"`
}

// SerializeCredentialsResponse encodes the login the page should fill.
// Username and password are always present, even when empty.
func SerializeCredentialsResponse(c Credential) (string, error) {
	return encodeResponse(responseSuccess{Username: &c.Username, Password: &c.Password})
}

// SerializeEmptyResponse encodes the "nothing to fill" response.
func SerializeEmptyResponse() (string, error) {
	return encodeResponse(responseSuccess{Action: ActionNone})
}

// SerializeAcceptGeneratedPasswordResponse tells the page to use its generated password.
func SerializeAcceptGeneratedPasswordResponse() (string, error) {
	return encodeResponse(responseSuccess{Action: ActionAcceptGeneratedPassword})
}

// SerializeRejectGeneratedPasswordResponse tells the page to discard its generated password.
func SerializeRejectGeneratedPasswordResponse() (string, error) {
	return encodeResponse(responseSuccess{Action: ActionRejectGeneratedPassword})
}

func encodeResponse(s responseSuccess) (string, error) {
	data, err := json.Marshal(responseJSON{Type: responseType, Success: s})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Response is a decoded getAutofillDataResponse.
type Response struct {
	// Action is empty for a credentials response.
	Action   string
	Username string
	Password string
}

// HasCredentials reports whether the response carries a login to fill.
func (r Response) HasCredentials() bool {
	return r.Action == ""
}

// ParseResponse decodes text produced by one of the Serialize functions.
func ParseResponse(text string) (Response, error) {
	var raw responseJSON
	if err := decodeObject(text, &raw); err != nil {
		return Response{}, &ParseError{Kind: responseType, Err: err}
	}
	if raw.Type != responseType {
		return Response{}, &ParseError{Kind: responseType, Field: "type"}
	}
	resp := Response{Action: raw.Success.Action}
	if raw.Success.Username != nil {
		resp.Username = *raw.Success.Username
	}
	if raw.Success.Password != nil {
		resp.Password = *raw.Success.Password
	}
	if resp.Action == "" && raw.Success.Username == nil && raw.Success.Password == nil {
		return Response{}, &ParseError{Kind: responseType, Field: "success"}
	}
	return resp, nil
}
