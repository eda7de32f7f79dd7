// Package ability compiles stored permission rules into per-request
// authorization policies and evaluates them. Rules are never cached across
// requests: a role's permissions may change at any time and stale grants are
// not tolerated.
package ability

import (
	"fmt"
	"strings"

	"storyhub.org/internal/auth"
)

// Action is one of the fixed verbs a rule can grant or forbid. Manage implies
// every other action.
type Action string

const (
	ActionRead   Action = "read"
	ActionManage Action = "manage"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Subject is the record type a rule applies to. SubjectAll is the wildcard.
type Subject string

const (
	SubjectUser  Subject = "User"
	SubjectStory Subject = "Story"
	SubjectAll   Subject = "all"
)

// ParseAction validates a stored action value.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionRead, ActionManage, ActionCreate, ActionUpdate, ActionDelete:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: unknown action %q", auth.ErrInvalidInput, s)
}

// ParseSubject validates a stored subject value.
func ParseSubject(s string) (Subject, error) {
	switch Subject(s) {
	case SubjectUser, SubjectStory, SubjectAll:
		return Subject(s), nil
	}
	return "", fmt.Errorf("%w: unknown subject %q", auth.ErrInvalidInput, s)
}

// Rule is a permission compiled against a concrete identity. Owner is nil for
// unconstrained rules; otherwise the target record's owning-user field must
// equal it.
type Rule struct {
	Action   Action
	Subject  Subject
	Inverted bool
	Owner    *int64
	Reason   string
}

// Compile renders each permission's condition template against the identity
// and returns rules in declaration order. Rendering is restricted to the
// ownership key and the caller-id placeholder; anything else is a
// configuration fault, never a bypass.
func Compile(perms []*auth.Permission, identity auth.Identity) ([]Rule, error) {
	rules := make([]Rule, 0, len(perms))
	for _, p := range perms {
		action, err := ParseAction(p.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: permission %d: %v", auth.ErrInternal, p.ID, err)
		}
		subject, err := ParseSubject(p.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: permission %d: %v", auth.ErrInternal, p.ID, err)
		}
		rule := Rule{Action: action, Subject: subject, Inverted: p.Inverted}
		if p.Reason != nil {
			rule.Reason = *p.Reason
		}
		if p.Conditions != nil {
			owner, err := renderOwnership(p.Conditions.Ownership, identity)
			if err != nil {
				return nil, fmt.Errorf("%w: permission %d: %v", auth.ErrInternal, p.ID, err)
			}
			rule.Owner = &owner
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// renderOwnership resolves the ownership template by direct attribute lookup.
// Only the caller-id placeholder is recognized.
func renderOwnership(template string, identity auth.Identity) (int64, error) {
	inner, ok := strings.CutPrefix(strings.TrimSpace(template), "{{")
	if ok {
		inner, ok = strings.CutSuffix(inner, "}}")
	}
	if !ok {
		return 0, fmt.Errorf("malformed ownership template %q", template)
	}
	switch strings.TrimSpace(inner) {
	case "id":
		return identity.UserID, nil
	}
	return 0, fmt.Errorf("unresolvable ownership attribute %q", strings.TrimSpace(inner))
}
