// Package discovery registers running services and resolves them by the
// interface they provide. A server registers one entry per hosted resource
// kind on start and removes it on stop; a client resolves a location once and
// stays bound to it.
//
// Backends
//
//	memory  single process, tests and embedded use
//	file    directory of JSON registrations shared by processes on one host
//	redis   shared across hosts
//
// Every backend passes the suite in discovery/locatortest. When more than one
// registration matches a lookup, the most recent one wins.
package discovery
