package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIngestVerifierRoundTrip(t *testing.T) {
	v := NewIngestVerifier("shared-secret", 0)
	body := []byte(`[{"source":"fw","host":"edge-01"}]`)

	sig := v.ComputeSignature(body)
	assert.True(t, v.VerifySignature(body, sig))
}

func TestIngestVerifierRejectsWrongSignature(t *testing.T) {
	v := NewIngestVerifier("shared-secret", 0)
	body := []byte(`[{"source":"fw"}]`)

	assert.False(t, v.VerifySignature(body, "not-a-real-signature"))
}

func TestIngestVerifierRejectsTamperedBody(t *testing.T) {
	v := NewIngestVerifier("shared-secret", 0)
	sig := v.ComputeSignature([]byte(`original`))

	assert.False(t, v.VerifySignature([]byte(`tampered`), sig))
}

func TestCheckBodySizeDefaultCap(t *testing.T) {
	v := NewIngestVerifier("secret", 0)
	assert.Nil(t, v.CheckBodySize(1024))

	err := v.CheckBodySize(DefaultMaxBodyBytes + 1)
	assert.NotNil(t, err)
}

func TestCheckBodySizeCustomCap(t *testing.T) {
	v := NewIngestVerifier("secret", 100)
	assert.Nil(t, v.CheckBodySize(100))
	assert.NotNil(t, v.CheckBodySize(101))
}
