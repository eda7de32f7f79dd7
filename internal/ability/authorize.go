package ability

import (
	"context"
	"errors"
	"fmt"

	"storyhub.org/internal/auth"
)

// DefaultDenialReason is reported when no matching rule carries its own
// reason.
const DefaultDenialReason = "You are not allowed to perform this action"

// SubjectRef is the loaded target of a subject-scoped check, reduced to what
// constraint evaluation needs.
type SubjectRef struct {
	Subject Subject
	ID      int64
	OwnerID int64
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorize evaluates compiled rules against a required action/subject pair.
// A request is allowed iff at least one non-inverted rule matches (action in
// {required, manage}, subject in {required, all}) with its constraint
// satisfied, and no inverted rule with an equal-or-broader match applies:
// deny overrides, in declaration order.
//
// target carries the loaded subject instance for scoped checks. When a rule
// is constrained, the check is subject-scoped and no target was supplied,
// the constraint counts as unsatisfied: fail closed. Type-level checks
// (subjectScoped false, e.g. list endpoints) evaluate constrained rules
// without their constraint.
func Authorize(rules []Rule, action Action, subject Subject, target *SubjectRef, subjectScoped bool) Decision {
	allowed := false
	for _, r := range rules {
		if !matches(r, action, subject) || !satisfied(r, target, subjectScoped) {
			continue
		}
		if r.Inverted {
			reason := r.Reason
			if reason == "" {
				reason = DefaultDenialReason
			}
			return Decision{Allowed: false, Reason: reason}
		}
		allowed = true
	}
	if allowed {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: DefaultDenialReason}
}

func matches(r Rule, action Action, subject Subject) bool {
	if r.Action != action && r.Action != ActionManage {
		return false
	}
	return r.Subject == subject || r.Subject == SubjectAll
}

func satisfied(r Rule, target *SubjectRef, subjectScoped bool) bool {
	if r.Owner == nil {
		return true
	}
	if target == nil {
		return !subjectScoped
	}
	return target.OwnerID == *r.Owner
}

// Engine resolves a caller's stored permissions, compiles them and evaluates
// a required ability, loading the conditioned subject instance when the
// check targets a single record.
type Engine struct {
	store auth.Store
}

// NewEngine constructs an Engine over the given store.
func NewEngine(store auth.Store) *Engine {
	return &Engine{store: store}
}

// AuthorizeRequest performs the full per-request decision procedure. When
// subjectID is non-nil the check is subject-scoped: the target record is
// fetched first and a missing record surfaces as auth.ErrNotFound before any
// authorization outcome, never masked as a denial.
func (e *Engine) AuthorizeRequest(ctx context.Context, identity auth.Identity, action Action, subject Subject, subjectID *int64) (Decision, error) {
	perms, err := e.store.Permissions().ListByRole(ctx, identity.RoleID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: load permissions for role %d: %v", auth.ErrInternal, identity.RoleID, err)
	}
	rules, err := Compile(perms, identity)
	if err != nil {
		return Decision{}, err
	}

	var target *SubjectRef
	subjectScoped := subjectID != nil
	if subjectScoped {
		target, err = e.loadSubject(ctx, subject, *subjectID)
		if err != nil {
			return Decision{}, err
		}
	}
	return Authorize(rules, action, subject, target, subjectScoped), nil
}

// loadSubject fetches the target record. A missing record stays ErrNotFound;
// any other store fault is normalized to auth.ErrInternal.
func (e *Engine) loadSubject(ctx context.Context, subject Subject, id int64) (*SubjectRef, error) {
	switch subject {
	case SubjectUser:
		u, err := e.store.Users().Find(ctx, id)
		if err != nil {
			return nil, subjectLoadError(subject, id, err)
		}
		// A profile is owned by the account itself.
		return &SubjectRef{Subject: SubjectUser, ID: u.ID, OwnerID: u.ID}, nil
	case SubjectStory:
		s, err := e.store.Stories().Find(ctx, id)
		if err != nil {
			return nil, subjectLoadError(subject, id, err)
		}
		return &SubjectRef{Subject: SubjectStory, ID: s.ID, OwnerID: s.CreatedBy}, nil
	default:
		return nil, fmt.Errorf("%w: subject %q is not loadable", auth.ErrInvalidInput, subject)
	}
}

func subjectLoadError(subject Subject, id int64, err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: load %s %d: %v", auth.ErrInternal, subject, id, err)
}
