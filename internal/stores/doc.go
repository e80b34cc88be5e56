// Package stores holds the engine's Redis-backed transient protocol state:
// issued email codes, half-authenticated pending logins, open passkey
// ceremonies, and live sessions. Every record carries a TTL; nothing here
// is durable and nothing references the caller's user database beyond a
// numeric user ID.
package stores
