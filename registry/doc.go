// Package registry implements the server side of shared resource sessions: an
// in-memory store of open handles keyed by resource name, the pure decision
// function that maps an initialization behavior onto the store, and the
// Registry service that ties them together under a per-name lock.
//
// A Registry serves exactly one resource Kind. The Kind constructs handles
// (open a file, connect to a device) and exposes the domain operations that
// clients invoke against an open session; the registry itself never branches
// on what a handle is.
//
// # Behaviors
//
//	behavior            open record     absent record
//	UNSPECIFIED         use existing    create new
//	INITIALIZE_NEW      AlreadyExists   create new
//	ATTACH_TO_EXISTING  use existing    NotFound
//
// # Locking
//
// Initialize and Close hold the resource name's exclusive lock for the whole
// check, decide, construct or destruct sequence. Invoke holds the shared lock,
// so operations on one session run in parallel with each other but never
// overlap a transition of that name. Unrelated names never wait on each other.
//
// Example:
//
//	reg := registry.New(ndjsonlog.Kind())
//	res, err := reg.Initialize(ctx, "/var/log/run.ndjson", registry.BehaviorUnspecified, nil)
//	if err != nil {
//		return err
//	}
//	defer reg.Close(ctx, res.SessionID)
//
// Failures are *Error values carrying a Code; compare them with errors.Is
// against ErrNotFound, ErrAlreadyExists and the other sentinels.
package registry
