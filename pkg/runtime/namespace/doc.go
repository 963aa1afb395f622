// Package namespace implements the mount tree that application stages bind
// modules into and resolve them from.
//
// Paths are dotted ("api.users"); "/" and "\" are accepted as separators
// too, so directory-relative names map directly. Each path segment is a
// node: branches hold children, leaves hold a value produced in one of
// three modes:
//
//	ModeEager     provider runs once when bound
//	ModeLazy      provider runs on every resolve
//	ModeSnapshot  value stored as given (BindValue)
//
// A miss is soft: Resolve returns false and Load returns ErrNotFound.
package namespace
