package auth

import "errors"

// Missing and malformed keys map to 401 without confirming whether a key
// exists; revoked keys map to 403.
var (
	ErrMissingKey       = errors.New("API key required in Authorization or X-API-Key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrNoSecrets        = errors.New("no HMAC secrets configured (set PD_HMAC_SECRET)")
)
