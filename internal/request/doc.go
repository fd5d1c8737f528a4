// Package request tracks the lifecycle of asynchronous calls to the session
// service: a plain read (Query), a parameterised write (Mutation) and a
// page-driven listing (Pager).
//
// Each wrapper exposes a State that moves through Idle, Loading, Success and
// Error. A new call supersedes the one before it: the older call's context is
// cancelled and whatever it returns is dropped, so two calls resolving out of
// order can never leave stale data behind. Close marks the owner as gone;
// results arriving afterwards are discarded.
package request
