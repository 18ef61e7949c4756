package signature

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- X-Hub-Signature is still sha1 for older deliveries
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

var algorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Verifier checks webhook signatures against a shared secret.
// Bypass disables verification and must only be set from an explicit debug flag.
type Verifier struct {
	Secret []byte
	Bypass bool
}

func NewVerifier(secret string, bypass bool) *Verifier {
	return &Verifier{
		Secret: []byte(secret),
		Bypass: bypass,
	}
}

// Check the signature header of a delivery, returns an error wrapping ErrInvalidSignature on failure
func (v *Verifier) VerifyRequest(body []byte, signatureHeader string) error {
	if v.Bypass {
		return nil
	}
	return check(body, signatureHeader, v.Secret)
}

// Verify a "<algorithm>=<hexDigest>" signature header for the given body.
// Every malformed input is a failed verification.
func Verify(body []byte, signatureHeader string, secret []byte) bool {
	return check(body, signatureHeader, secret) == nil
}

// Create a signature header for the body, mainly used for testing and tooling
func Sign(body []byte, secret []byte, algorithm string) (string, error) {
	newHash, ok := algorithms[algorithm]
	if !ok {
		return "", fmt.Errorf("unsupported signature algorithm '%s'", algorithm)
	}
	mac := hmac.New(newHash, secret)
	_, _ = mac.Write(body)
	return algorithm + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

func check(body []byte, signatureHeader string, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	if signatureHeader == "" {
		return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	algorithm, digest, ok := strings.Cut(signatureHeader, "=")
	if !ok || digest == "" {
		return fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}

	newHash, ok := algorithms[algorithm]
	if !ok {
		return fmt.Errorf("%w: unsupported algorithm '%s'", ErrInvalidSignature, algorithm)
	}

	// Providers send lowercase hex, the digest is compared as text so case changes fail
	mac := hmac.New(newHash, secret)
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(digest)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}
