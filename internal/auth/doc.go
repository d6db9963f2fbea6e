// Package auth inspects the bearer credentials handed to the live channel.
//
// The channel never holds a signing secret, so nothing here verifies a
// signature. What it can do without the secret:
//   - Reject an absent credential before any connection is attempted
//   - Detect a JWT whose exp claim has already passed
//   - Produce a short, stable fingerprint for logs and the audit trail
//
// Opaque (non-JWT) tokens are accepted as-is; the server remains the only
// authority on whether a credential is valid.
//
// # Security
//
// Raw tokens must never reach a log sink. Use Fingerprint:
//
//	logger.Info("session started", "token_fp", auth.Fingerprint(token))
package auth
