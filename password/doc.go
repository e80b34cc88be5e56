// Package password hashes and verifies account secrets with argon2id,
// encoded in PHC string format. Verification never panics or errors on a
// malformed digest; it simply fails.
package password
