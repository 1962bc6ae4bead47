package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopbridge/golang_services/internal/core_domain"
)

const signaturePrefix = "sha256="

// SignatureVerifier checks the HMAC-SHA256 signature of a raw webhook body.
type SignatureVerifier struct {
	secret        []byte
	allowUnsigned bool
}

// NewSignatureVerifier creates a verifier. allowUnsigned only takes effect when
// secret is empty; a configured secret is always enforced.
func NewSignatureVerifier(secret string, allowUnsigned bool) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret), allowUnsigned: allowUnsigned && secret == ""}
}

// AllowsUnsigned reports whether requests without a signature are accepted.
func (v *SignatureVerifier) AllowsUnsigned() bool { return v.allowUnsigned }

// Sign returns the header value for body. Used by tests and local tooling.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against body. It fails closed when no secret is set
// unless unsigned requests were explicitly allowed.
func (v *SignatureVerifier) Verify(body []byte, header string) error {
	if v.allowUnsigned {
		return nil
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", core_domain.ErrAuthentication)
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return fmt.Errorf("%w: unsupported signature format", core_domain.ErrAuthentication)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: malformed signature", core_domain.ErrAuthentication)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", core_domain.ErrAuthentication)
	}
	return nil
}
