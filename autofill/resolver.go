package autofill

import "fmt"

// ActionKind enumerates the side effects the resolver can ask for.
type ActionKind int

const (
	// ActionDeleteTrackedLogin deletes the auto-saved login from the store.
	ActionDeleteTrackedLogin ActionKind = iota + 1
	// ActionDiscardTrackingID forgets which login was auto-saved for the page.
	ActionDiscardTrackingID
	// ActionPromptToSave asks the user whether to save the submitted login.
	ActionPromptToSave
	// ActionUpdateTrackedLogin overwrites the auto-saved login with the submission.
	ActionUpdateTrackedLogin
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeleteTrackedLogin:
		return "delete-tracked-login"
	case ActionDiscardTrackingID:
		return "discard-tracking-id"
	case ActionPromptToSave:
		return "prompt-to-save"
	case ActionUpdateTrackedLogin:
		return "update-tracked-login"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is one step of a resolution. LoginID is set for delete and update,
// Credential for prompt-to-save.
type Action struct {
	Kind       ActionKind
	LoginID    string
	Credential Credential
}

func (a Action) String() string {
	switch a.Kind {
	case ActionDeleteTrackedLogin, ActionUpdateTrackedLogin:
		return a.Kind.String() + "(" + a.LoginID + ")"
	default:
		return a.Kind.String()
	}
}

// DeleteTrackedLogin builds a delete action.
func DeleteTrackedLogin(id string) Action {
	return Action{Kind: ActionDeleteTrackedLogin, LoginID: id}
}

// DiscardTrackingID builds a discard action.
func DiscardTrackingID() Action {
	return Action{Kind: ActionDiscardTrackingID}
}

// PromptToSave builds a prompt action for c.
func PromptToSave(c Credential) Action {
	return Action{Kind: ActionPromptToSave, Credential: c}
}

// UpdateTrackedLogin builds an update action.
func UpdateTrackedLogin(id string) Action {
	return Action{Kind: ActionUpdateTrackedLogin, LoginID: id}
}

// DecideActions maps the login auto-saved for the page (nil if none) and a new
// submission to the ordered effects the caller must run.
//
// An existing login without an ID cannot be addressed in the store and is
// treated as absent. The result never contains both a prompt and an update.
func DecideActions(existing *Credential, submitted Credential, autogenerated bool) []Action {
	if existing == nil || existing.ID == "" {
		return []Action{PromptToSave(submitted)}
	}

	if !autogenerated {
		return []Action{
			DeleteTrackedLogin(existing.ID),
			DiscardTrackingID(),
			PromptToSave(submitted),
		}
	}

	if existing.SameLogin(submitted) {
		return []Action{}
	}
	return []Action{UpdateTrackedLogin(existing.ID)}
}

// ValidateActions returns an error wrapping ErrResolverInvariant if actions
// contains both a prompt-to-save and an update.
func ValidateActions(actions []Action) error {
	var prompt, update bool
	for _, a := range actions {
		switch a.Kind {
		case ActionPromptToSave:
			prompt = true
		case ActionUpdateTrackedLogin:
			update = true
		}
	}
	if prompt && update {
		return fmt.Errorf("%w: %v", ErrResolverInvariant, actions)
	}
	return nil
}
