package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"batchzip/internal/metrics"
)

// Verification failures
var (
	ErrExpired           = errors.New("request has expired")
	ErrSignatureRequired = errors.New("signature required")
	ErrInvalidSignature  = errors.New("invalid signature")
)

// Verifier handles request signature verification. A signature is the hex
// HMAC-SHA256 of the signed payload, followed by "|<expiry>" when an expiry
// is sent.
type Verifier struct {
	secret         []byte
	enforceSigning bool
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewVerifier creates a new signature verifier
func NewVerifier(secret []byte, enforceSigning bool, m *metrics.Metrics) *Verifier {
	return &Verifier{
		secret:         secret,
		enforceSigning: enforceSigning,
		metrics:        m,
		now:            time.Now,
	}
}

// Sign returns the signature for payload and an optional expiry
func (v *Verifier) Sign(payload []byte, expiryStr string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write(payload)
	if expiryStr != "" {
		h.Write([]byte("|" + expiryStr))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks the signature and expiry of a request. payload is the raw
// request body for POSTs and the run ID for lookups.
func (v *Verifier) Verify(payload []byte, expiryStr, signature string) error {
	// Check expiry if provided
	if expiryStr != "" {
		expiry, err := strconv.ParseInt(expiryStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid expiry: %w", err)
		}
		if v.now().Unix() > expiry {
			v.metrics.ExpiredRequestsTotal.Inc()
			return ErrExpired
		}
	}

	// Check signature if enforced or provided
	if v.enforceSigning || signature != "" {
		if signature == "" {
			v.metrics.SignatureFailuresTotal.Inc()
			return ErrSignatureRequired
		}

		expected := v.Sign(payload, expiryStr)
		if !hmac.Equal([]byte(signature), []byte(expected)) {
			v.metrics.SignatureFailuresTotal.Inc()
			return ErrInvalidSignature
		}
	}

	return nil
}
