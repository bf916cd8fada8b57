// Package tokenstore persists exactly one access/refresh token pair across restarts.
//
// Supports four storage backends with different security and deployment tradeoffs:
//   - File: encrypted file (XChaCha20-Poly1305) with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: read-only environment variable access (requires external secret management)
//   - Memory: process-local storage for ephemeral sessions
//
// A pair is always written as one serialized record, so a crash can never leave
// an access token without its refresh token behind. Records holding only one
// of the two tokens load as "no credentials".
package tokenstore
