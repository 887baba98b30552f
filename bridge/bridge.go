// Package bridge coordinates autofill requests from a page script with the
// credential store, the UI callback and the action resolver.
//
// A Bridge serves one page instance. Each request class runs in its own
// conflated slot: a new fetch cancels the fetch in flight, a new store
// submission cancels the one in flight, and so on, while the classes run
// independently of each other.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Paranoid-AF/passbridge/autofill"
	"github.com/Paranoid-AF/passbridge/slot"
)

var (
	// ErrURLUnavailable aborts a request when the host has no URL for the page.
	ErrURLUnavailable = errors.New("bridge: page url unavailable")
	// ErrCapabilityDenied aborts a request when autofill is disabled for the URL.
	ErrCapabilityDenied = errors.New("bridge: autofill disabled for url")
)

// Config wires a Bridge to its collaborators. Every field except Resolver and
// Logger is required.
type Config struct {
	// PageID identifies the page instance in the TrackingIDMonitor.
	PageID       string
	Store        CredentialStore
	Capabilities CapabilityChecker
	URLs         URLProvider
	Monitor      TrackingIDMonitor
	Callback     Callback
	Poster       MessagePoster
	// Resolver defaults to autofill.DecideActions.
	Resolver Resolver
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c Config) validate() error {
	switch {
	case c.PageID == "":
		return errors.New("bridge: page id is required")
	case c.Store == nil:
		return errors.New("bridge: credential store is required")
	case c.Capabilities == nil:
		return errors.New("bridge: capability checker is required")
	case c.URLs == nil:
		return errors.New("bridge: url provider is required")
	case c.Monitor == nil:
		return errors.New("bridge: tracking id monitor is required")
	case c.Callback == nil:
		return errors.New("bridge: callback is required")
	case c.Poster == nil:
		return errors.New("bridge: message poster is required")
	}
	return nil
}

// Bridge is the coordinator for one page instance.
type Bridge struct {
	pageID   string
	store    CredentialStore
	caps     CapabilityChecker
	urls     URLProvider
	monitor  TrackingIDMonitor
	callback Callback
	poster   MessagePoster
	resolve  Resolver
	log      *slog.Logger

	scope  *slot.Scope
	fetch  *slot.Slot
	save   *slot.Slot
	inject *slot.Slot
}

// New creates a Bridge whose tasks are cancelled when ctx is done or Close is called.
func New(ctx context.Context, cfg Config) (*Bridge, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	resolve := cfg.Resolver
	if resolve == nil {
		resolve = autofill.DecideActions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scope := slot.NewScope(ctx)
	return &Bridge{
		pageID:   cfg.PageID,
		store:    cfg.Store,
		caps:     cfg.Capabilities,
		urls:     cfg.URLs,
		monitor:  cfg.Monitor,
		callback: cfg.Callback,
		poster:   cfg.Poster,
		resolve:  resolve,
		log:      logger.With("page", cfg.PageID),
		scope:    scope,
		fetch:    slot.New(scope, "fetch"),
		save:     slot.New(scope, "store"),
		inject:   slot.New(scope, "inject"),
	}, nil
}

// Close cancels every in-flight task and waits for them to return.
func (b *Bridge) Close() {
	b.scope.Close()
}

// Wait blocks until the latest task in every slot has returned, letting
// in-flight requests deliver their callbacks.
func (b *Bridge) Wait() {
	b.fetch.Wait()
	b.save.Wait()
	b.inject.Wait()
}

// GetAutofillData handles a getAutofillData message, superseding any fetch
// still in flight.
func (b *Bridge) GetAutofillData(text string) {
	b.log.Debug("request", "op", "getAutofillData", "data", autofill.Redacted(text))
	b.fetch.Assign(func(ctx context.Context) {
		if err := b.getAutofillData(ctx, text); err != nil {
			b.logAbort("getAutofillData", err)
		}
	})
}

// StoreFormData handles a storeFormData message, superseding any submission
// still in flight. The new submission waits for the superseded one to return
// before it reads the tracking id, so it never sees a half-applied action list.
func (b *Bridge) StoreFormData(text string) {
	b.log.Debug("request", "op", "storeFormData", "data", autofill.Redacted(text))
	b.save.AssignSerial(func(ctx context.Context) {
		if err := b.storeFormData(ctx, text); err != nil {
			b.logAbort("storeFormData", err)
		}
	})
}

// CancelRetrievingStoredLogins cancels the fetch in flight, if any. Store and
// inject tasks are unaffected.
func (b *Bridge) CancelRetrievingStoredLogins() {
	if !b.fetch.Active() {
		b.log.Debug("no fetch to cancel")
		return
	}
	b.fetch.Cancel()
}

// InjectCredentials answers the page's fetch with c.
func (b *Bridge) InjectCredentials(c autofill.Credential) {
	b.respond("injectCredentials", func() (string, error) {
		return autofill.SerializeCredentialsResponse(c)
	})
}

// InjectNoCredentials answers the page's fetch with the empty response.
func (b *Bridge) InjectNoCredentials() {
	b.respond("injectNoCredentials", autofill.SerializeEmptyResponse)
}

// AcceptGeneratedPassword tells the page to keep its generated password.
func (b *Bridge) AcceptGeneratedPassword() {
	b.respond("acceptGeneratedPassword", autofill.SerializeAcceptGeneratedPasswordResponse)
}

// RejectGeneratedPassword tells the page to discard its generated password.
func (b *Bridge) RejectGeneratedPassword() {
	b.respond("rejectGeneratedPassword", autofill.SerializeRejectGeneratedPasswordResponse)
}

// respond serializes and posts a response on the inject slot.
func (b *Bridge) respond(op string, serialize func() (string, error)) {
	b.inject.Assign(func(ctx context.Context) {
		text, err := serialize()
		if err != nil {
			b.log.Error("failed to serialize response", "op", op, "error", err)
			return
		}
		posted := b.inject.Emit(ctx, func() {
			b.poster.PostMessage(text)
		})
		if !posted {
			b.log.Debug("response superseded", "op", op)
			return
		}
		b.log.Debug("response", "op", op, "data", autofill.Redacted(text))
	})
}

func (b *Bridge) currentURL(ctx context.Context) (string, error) {
	url, ok := b.urls.CurrentURL(ctx)
	if !ok || url == "" {
		return "", ErrURLUnavailable
	}
	return url, nil
}

// emit runs fn on s unless the task has been superseded.
func (b *Bridge) emit(ctx context.Context, s *slot.Slot, what string, fn func()) {
	if !s.Emit(ctx, fn) {
		b.log.Debug("callback superseded", "slot", s.Name(), "generation", s.Generation(), "callback", what)
	}
}

// logAbort is the single sink for errors that end a request.
func (b *Bridge) logAbort(op string, err error) {
	var perr *autofill.ParseError
	switch {
	case errors.Is(err, context.Canceled):
		b.log.Debug("request superseded", "op", op)
	case errors.Is(err, ErrURLUnavailable),
		errors.Is(err, ErrCapabilityDenied),
		errors.Is(err, autofill.ErrValidation):
		b.log.Debug("request dropped", "op", op, "reason", err)
	case errors.As(err, &perr):
		b.log.Warn("invalid request", "op", op, "error", err)
	default:
		b.log.Error("request failed", "op", op, "error", err)
	}
}

func (b *Bridge) getAutofillData(ctx context.Context, text string) error {
	url, err := b.currentURL(ctx)
	if err != nil {
		return err
	}
	if !b.caps.CanInject(ctx, url) {
		return fmt.Errorf("%w: inject on %s", ErrCapabilityDenied, url)
	}

	req, err := autofill.ParseAutofillDataRequest(text)
	if err != nil {
		// Fail open so the UI is not left waiting for an answer.
		b.emit(ctx, b.fetch, "noCredentialsAvailable", func() {
			b.callback.NoCredentialsAvailable(url)
		})
		return err
	}

	if req.MainType != autofill.MainTypeCredentials {
		b.log.Warn("unsupported autofill main type", "main_type", req.RawMainType)
		b.emit(ctx, b.fetch, "noCredentialsAvailable", func() {
			b.callback.NoCredentialsAvailable(url)
		})
		return nil
	}

	if req.GeneratedPasswordAvailable() {
		gen := req.GeneratedPassword
		b.emit(ctx, b.fetch, "onGeneratedPasswordAvailable", func() {
			b.callback.OnGeneratedPasswordAvailable(url, gen.Username, gen.Value)
		})
		return nil
	}

	return b.offerCredentials(ctx, url, req)
}

func (b *Bridge) offerCredentials(ctx context.Context, url string, req autofill.AutofillRequest) error {
	creds, err := b.store.GetCredentials(ctx, url)
	if err != nil {
		b.emit(ctx, b.fetch, "noCredentialsAvailable", func() {
			b.callback.NoCredentialsAvailable(url)
		})
		return fmt.Errorf("get credentials for %s: %w", url, err)
	}

	matches := autofill.FilterSubType(creds, req.SubType)
	b.log.Debug("credentials matched", "url", url, "stored", len(creds), "matches", len(matches), "sub_type", req.SubType)

	if len(matches) == 0 {
		b.emit(ctx, b.fetch, "noCredentialsAvailable", func() {
			b.callback.NoCredentialsAvailable(url)
		})
		return nil
	}
	b.emit(ctx, b.fetch, "onCredentialsAvailable", func() {
		b.callback.OnCredentialsAvailable(url, matches, req.Trigger)
	})
	return nil
}
