package signal

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/smilemakc/flowforge/pkg/models"
)

// VerifySignature checks an HMAC signature over the raw payload bytes.
// The algorithm comes from the subscription (default sha256); the provided
// signature may carry the conventional "<alg>=" prefix. Comparison is
// constant-time.
func VerifySignature(secret, algorithm string, rawBody []byte, signature string) error {
	if signature == "" {
		return models.ErrInvalidSignature
	}

	if algorithm == "" {
		algorithm = "sha256"
	}
	var newHash func() hash.Hash
	switch strings.ToLower(algorithm) {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return models.ErrInvalidSignature
	}

	signature = strings.TrimPrefix(signature, strings.ToLower(algorithm)+"=")

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return models.ErrInvalidSignature
	}
	if !hmac.Equal(expected, provided) {
		return models.ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex HMAC of a payload; used by tests and by outbound
// webhook emitters.
func Sign(secret, algorithm string, rawBody []byte) string {
	var newHash func() hash.Hash
	switch strings.ToLower(algorithm) {
	case "sha1":
		newHash = sha1.New
	case "sha512":
		newHash = sha512.New
	default:
		newHash = sha256.New
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
