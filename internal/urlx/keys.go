package urlx

import "encoding/base64"

// Base64Key returns the unpadded URL-safe base64 form of raw. OCR cache
// keys and object-store names both encode the canonical PDF URL this way.
func Base64Key(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeBase64Key reverses Base64Key. Used by operator tooling to map an
// object-store key back to its source URL.
func DecodeBase64Key(key string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}
