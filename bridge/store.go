package bridge

import (
	"context"
	"fmt"

	"github.com/Paranoid-AF/passbridge/autofill"
)

func (b *Bridge) storeFormData(ctx context.Context, text string) error {
	url, err := b.currentURL(ctx)
	if err != nil {
		return err
	}
	if !b.caps.CanSave(ctx, url) {
		return fmt.Errorf("%w: save on %s", ErrCapabilityDenied, url)
	}

	req, err := autofill.ParseStoreFormDataRequest(text)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	submitted := req.Credential(url)
	autogenerated := req.Credentials.Autogenerated

	existing, err := b.trackedLogin(ctx)
	if err != nil {
		return err
	}

	actions := b.resolve(existing, submitted, autogenerated)
	if err := autofill.ValidateActions(actions); err != nil {
		b.log.Error("resolver returned conflicting actions, running only the first", "error", err)
		actions = actions[:1]
	}
	b.log.Debug("resolved actions", "actions", fmt.Sprint(actions), "autogenerated", autogenerated)

	if len(actions) == 0 {
		if existing != nil {
			b.log.Info("submitted login already saved", "login", existing.ID)
		}
		return nil
	}

	for _, action := range actions {
		if err := b.execute(ctx, url, submitted, action); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
	}
	return nil
}

// trackedLogin returns the login auto-saved for this page, or nil if none is
// tracked or the tracked id no longer resolves.
func (b *Bridge) trackedLogin(ctx context.Context) (*autofill.Credential, error) {
	id, ok := b.monitor.TrackingID(b.pageID)
	if !ok || id == "" {
		return nil, nil
	}
	existing, err := b.store.GetCredentialsWithID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read tracked login %s: %w", id, err)
	}
	if existing == nil {
		b.log.Debug("tracked login no longer stored", "login", id)
	}
	return existing, nil
}

// execute runs one resolved action. Store effects complete before it returns.
func (b *Bridge) execute(ctx context.Context, url string, submitted autofill.Credential, action autofill.Action) error {
	switch action.Kind {
	case autofill.ActionDeleteTrackedLogin:
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.store.DeleteCredentials(ctx, action.LoginID); err != nil {
			return err
		}
		b.log.Info("deleted auto-saved login", "login", action.LoginID)

	case autofill.ActionDiscardTrackingID:
		if err := ctx.Err(); err != nil {
			return err
		}
		b.monitor.ClearTrackingID(b.pageID)

	case autofill.ActionPromptToSave:
		b.emit(ctx, b.save, "onCredentialsAvailableToSave", func() {
			b.callback.OnCredentialsAvailableToSave(url, action.Credential)
		})

	case autofill.ActionUpdateTrackedLogin:
		return b.updateTrackedLogin(ctx, action.LoginID, submitted)

	default:
		b.log.Error("unknown action", "action", action.Kind)
	}
	return nil
}

// updateTrackedLogin re-reads the login and writes only when the submission differs.
func (b *Bridge) updateTrackedLogin(ctx context.Context, id string, submitted autofill.Credential) error {
	existing, err := b.store.GetCredentialsWithID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		b.log.Warn("auto-saved login vanished before update", "login", id)
		return nil
	}
	if existing.SameLogin(submitted) {
		b.log.Debug("auto-saved login unchanged, skipping update", "login", id)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	updated := *existing
	updated.Username = submitted.Username
	updated.Password = submitted.Password

	saved, err := b.store.UpdateCredentials(ctx, updated)
	if err != nil {
		return err
	}
	if saved == nil {
		b.log.Warn("store did not return updated login", "login", id)
		return nil
	}
	b.emit(ctx, b.save, "onCredentialsSaved", func() {
		b.callback.OnCredentialsSaved(*saved)
	})
	return nil
}
