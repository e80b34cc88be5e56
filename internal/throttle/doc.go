// Package throttle tracks failed login attempts per origin and enforces
// time-boxed lockouts. Records are process-local and never persisted; a
// lazy sweep bounds memory growth.
package throttle
