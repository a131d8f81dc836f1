// Package psk implements the pre-shared-key scheme devices use to
// authenticate themselves: a base64-encoded symmetric key established once at
// provisioning, and hex HMAC-SHA256 digests over exact request payload bytes.
package psk

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// TokenBytes is the amount of randomness in a freshly generated access token.
const TokenBytes = 64

// ErrMalformedToken indicates the access token is not valid base64.
var ErrMalformedToken = errors.New("access token is not valid base64")

// NewAccessToken returns a fresh base64-encoded access token.
func NewAccessToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DeriveKey decodes a base64 access token into raw key bytes.
func DeriveKey(accessToken string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedToken)
	}
	return key, nil
}

// ComputeMAC returns the hex HMAC-SHA256 digest of message under the key
// derived from accessToken.
func ComputeMAC(accessToken, message string) (string, error) {
	key, err := DeriveKey(accessToken)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyMAC recomputes the digest and compares it against claimedMAC in
// constant time. Any malformed input verifies false.
func VerifyMAC(accessToken, message, claimedMAC string) bool {
	expected, err := ComputeMAC(accessToken, message)
	if err != nil {
		return false
	}
	expectedRaw, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	claimedRaw, err := hex.DecodeString(claimedMAC)
	if err != nil {
		return false
	}
	return hmac.Equal(expectedRaw, claimedRaw)
}
