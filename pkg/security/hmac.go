package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"aegismind-siem/pkg/errors"
)

// IngestVerifier implements the ingest HMAC contract: the X-Signature
// header carries base64(HMAC-SHA256(body, secret)); verification is
// constant-time and the body is capped before parsing.
type IngestVerifier struct {
	secret       []byte
	maxBodyBytes int
}

// DefaultMaxBodyBytes is the 1 MiB ingest body cap from the external
// interfaces contract.
const DefaultMaxBodyBytes = 1 << 20

// NewIngestVerifier constructs a verifier bound to a shared secret. A
// maxBodyBytes of 0 falls back to DefaultMaxBodyBytes.
func NewIngestVerifier(secret string, maxBodyBytes int) *IngestVerifier {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &IngestVerifier{secret: []byte(secret), maxBodyBytes: maxBodyBytes}
}

// ComputeSignature returns base64(HMAC-SHA256(body, secret)), the value the
// caller is expected to have sent in X-Signature.
func (v *IngestVerifier) ComputeSignature(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the expected HMAC of
// body, in constant time.
func (v *IngestVerifier) VerifySignature(body []byte, signature string) bool {
	expected := v.ComputeSignature(body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// CheckBodySize returns an *errors.AppError if body exceeds the configured
// cap, nil otherwise. Callers must check this before parsing, per the
// external-interfaces contract: oversized bodies hard-fail before the
// pipeline ever sees them.
func (v *IngestVerifier) CheckBodySize(bodyLen int) error {
	if bodyLen > v.maxBodyBytes {
		return errors.IngestError(errors.CodeIngestBodyTooLarge, "check_body_size", "request body exceeds maximum size").
			WithMetadata("size", bodyLen).
			WithMetadata("max", v.maxBodyBytes)
	}
	return nil
}
