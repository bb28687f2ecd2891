// Package policy holds the static authorization configuration: the ordered
// route table that maps (method, path) to a required scope and optional
// rate limit, and the role table that maps role names to granted scopes.
//
// Both tables are built once at startup and are read-only afterwards, so
// they are safe for concurrent use without locking.
package policy
