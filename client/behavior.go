package client

import (
	"fmt"
	"strings"

	"github.com/ggoodman/session-sharing-go/registry"
)

// Behavior is the client-facing initialization intent. It is richer than the
// server's vocabulary: besides choosing create or attach it also fixes whether
// the session is closed when the unit of work ends.
type Behavior int

const (
	// Auto reuses an open session or creates one, and closes only what it created.
	Auto Behavior = iota
	// InitializeServerSession creates a new session and always closes it.
	InitializeServerSession
	// AttachToServerSession attaches to an open session and never closes it.
	AttachToServerSession
	// InitializeSessionThenDetach creates a new session and leaves it open for
	// a later attach.
	InitializeSessionThenDetach
	// AttachToSessionThenClose attaches to an open session and closes it.
	AttachToSessionThenClose
)

// Disposition decides what happens to a session on release.
type Disposition int

const (
	// CloseIfCreated closes only when this acquisition created the session.
	CloseIfCreated Disposition = iota
	// AlwaysClose closes on release.
	AlwaysClose
	// NeverClose leaves the session open on release.
	NeverClose
)

func (d Disposition) String() string {
	switch d {
	case CloseIfCreated:
		return "close-if-created"
	case AlwaysClose:
		return "always-close"
	case NeverClose:
		return "never-close"
	}
	return fmt.Sprintf("Disposition(%d)", int(d))
}

// ShouldClose applies the disposition to the newly_created flag returned by
// the server.
func (d Disposition) ShouldClose(newlyCreated bool) bool {
	switch d {
	case AlwaysClose:
		return true
	case CloseIfCreated:
		return newlyCreated
	}
	return false
}

// Reconciliation is one row of the behavior map.
type Reconciliation struct {
	Server      registry.InitBehavior
	Disposition Disposition
}

var reconciliations = map[Behavior]Reconciliation{
	Auto:                        {registry.BehaviorUnspecified, CloseIfCreated},
	InitializeServerSession:     {registry.BehaviorInitializeNew, AlwaysClose},
	AttachToServerSession:       {registry.BehaviorAttachToExisting, NeverClose},
	InitializeSessionThenDetach: {registry.BehaviorInitializeNew, NeverClose},
	AttachToSessionThenClose:    {registry.BehaviorAttachToExisting, AlwaysClose},
}

var behaviorNames = map[Behavior]string{
	Auto:                        "AUTO",
	InitializeServerSession:     "INITIALIZE_SERVER_SESSION",
	AttachToServerSession:       "ATTACH_TO_SERVER_SESSION",
	InitializeSessionThenDetach: "INITIALIZE_SESSION_THEN_DETACH",
	AttachToSessionThenClose:    "ATTACH_TO_SESSION_THEN_CLOSE",
}

// Behaviors lists every client behavior in declaration order.
func Behaviors() []Behavior {
	return []Behavior{Auto, InitializeServerSession, AttachToServerSession, InitializeSessionThenDetach, AttachToSessionThenClose}
}

func (b Behavior) String() string {
	if name, ok := behaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Behavior(%d)", int(b))
}

// Reconcile maps a client behavior to the server behavior to send and the
// disposition to apply on release. Unknown values are InvalidArgument.
func Reconcile(b Behavior) (Reconciliation, error) {
	r, ok := reconciliations[b]
	if !ok {
		return Reconciliation{}, registry.Errorf(registry.CodeInvalidArgument, "unknown session behavior %d", int(b))
	}
	return r, nil
}

// ParseBehavior accepts the upper snake case name or its kebab-case alias,
// for example "ATTACH_TO_SESSION_THEN_CLOSE" or "attach-to-session-then-close".
func ParseBehavior(s string) (Behavior, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for b, name := range behaviorNames {
		if name == norm {
			return b, nil
		}
	}
	return 0, registry.Errorf(registry.CodeInvalidArgument, "unknown session behavior %q", s)
}

// Set implements pflag.Value so a Behavior can be bound to a command flag.
func (b *Behavior) Set(s string) error {
	v, err := ParseBehavior(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Type implements pflag.Value.
func (b *Behavior) Type() string { return "behavior" }
