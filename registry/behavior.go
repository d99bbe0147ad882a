package registry

import (
	"fmt"
	"strings"
)

// InitBehavior is the server-facing initialization behavior. Its integer
// value is the ordinal carried on the wire.
type InitBehavior int

const (
	// BehaviorUnspecified reuses an open session for the name, or creates one.
	BehaviorUnspecified InitBehavior = 0
	// BehaviorInitializeNew only creates; it fails if an open session exists.
	BehaviorInitializeNew InitBehavior = 1
	// BehaviorAttachToExisting only reuses; it fails if no open session exists.
	BehaviorAttachToExisting InitBehavior = 2
)

var behaviorNames = map[InitBehavior]string{
	BehaviorUnspecified:      "SESSION_INITIALIZATION_BEHAVIOR_UNSPECIFIED",
	BehaviorInitializeNew:    "SESSION_INITIALIZATION_BEHAVIOR_INITIALIZE_NEW",
	BehaviorAttachToExisting: "SESSION_INITIALIZATION_BEHAVIOR_ATTACH_TO_EXISTING",
}

// Valid reports whether b is one of the three server behaviors.
func (b InitBehavior) Valid() bool {
	_, ok := behaviorNames[b]
	return ok
}

func (b InitBehavior) String() string {
	if name, ok := behaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("InitBehavior(%d)", int(b))
}

// ParseInitBehavior accepts the full enum name, its suffix after
// "SESSION_INITIALIZATION_BEHAVIOR_", or a kebab-case form of the suffix.
func ParseInitBehavior(s string) (InitBehavior, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	norm = strings.TrimPrefix(norm, "SESSION_INITIALIZATION_BEHAVIOR_")
	for b, name := range behaviorNames {
		if strings.TrimPrefix(name, "SESSION_INITIALIZATION_BEHAVIOR_") == norm {
			return b, nil
		}
	}
	return 0, Errorf(CodeInvalidArgument, "unknown initialization behavior %q", s)
}

// Decision is the outcome of resolving a behavior against the store.
type Decision int

const (
	// DecisionRejectInvalid is returned for behaviors outside the enumeration.
	DecisionRejectInvalid Decision = iota
	// DecisionUseExisting hands back the open session.
	DecisionUseExisting
	// DecisionCreateNew constructs a new handle and session.
	DecisionCreateNew
	// DecisionRejectAlreadyExists refuses INITIALIZE_NEW over an open session.
	DecisionRejectAlreadyExists
	// DecisionRejectNotFound refuses ATTACH_TO_EXISTING with nothing to attach to.
	DecisionRejectNotFound
)

func (d Decision) String() string {
	switch d {
	case DecisionUseExisting:
		return "use-existing"
	case DecisionCreateNew:
		return "create-new"
	case DecisionRejectAlreadyExists:
		return "reject-already-exists"
	case DecisionRejectNotFound:
		return "reject-not-found"
	}
	return "reject-invalid"
}

// Resolve maps a requested behavior and the current record for a name (nil
// when absent) to a Decision. It has no side effects.
func Resolve(b InitBehavior, existing *Record) Decision {
	open := existing != nil && !existing.Closed
	switch b {
	case BehaviorUnspecified:
		if open {
			return DecisionUseExisting
		}
		return DecisionCreateNew
	case BehaviorInitializeNew:
		if open {
			return DecisionRejectAlreadyExists
		}
		return DecisionCreateNew
	case BehaviorAttachToExisting:
		if open {
			return DecisionUseExisting
		}
		return DecisionRejectNotFound
	}
	return DecisionRejectInvalid
}
