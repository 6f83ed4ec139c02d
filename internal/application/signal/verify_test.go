package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/pkg/models"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"event": "invoice.paid", "amount": 12}`)

	for _, algorithm := range []string{"sha1", "sha256", "sha512"} {
		t.Run(algorithm, func(t *testing.T) {
			signature := Sign("s3cret-key", algorithm, body)
			assert.NoError(t, VerifySignature("s3cret-key", algorithm, body, signature))
			// conventional "<alg>=" prefix is accepted
			assert.NoError(t, VerifySignature("s3cret-key", algorithm, body, algorithm+"="+signature))
		})
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"x":1}`)
	good := Sign("secret", "sha256", body)

	assert.ErrorIs(t, VerifySignature("secret", "sha256", body, ""), models.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("other", "sha256", body, good), models.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("secret", "sha256", []byte(`{"x":2}`), good), models.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("secret", "md5", body, good), models.ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("secret", "sha256", body, "not-hex!"), models.ErrInvalidSignature)
}

func TestVerifySignatureDefaultsToSHA256(t *testing.T) {
	body := []byte("payload")
	signature := Sign("k", "sha256", body)
	assert.NoError(t, VerifySignature("k", "", body, signature))
}

func TestMapPayloadDotPaths(t *testing.T) {
	raw := []byte(`{
		"event": {"type": "push", "actor": {"login": "dev1"}},
		"commits": [{"id": "abc"}, {"id": "def"}]
	}`)

	out := MapPayload(map[string]string{
		"kind":    "event.type",
		"user":    "event.actor.login",
		"first":   "commits.0.id",
		"missing": "event.actor.email",
	}, raw)

	assert.Equal(t, "push", out["kind"])
	assert.Equal(t, "dev1", out["user"])
	assert.Equal(t, "abc", out["first"])
	require.Contains(t, out, "missing")
	assert.Nil(t, out["missing"])
}

func TestMapPayloadEmptyMappingPassesPayload(t *testing.T) {
	out := MapPayload(nil, []byte(`{"a": 1}`))
	assert.EqualValues(t, 1, out["a"])

	// non-object payloads are preserved raw
	out = MapPayload(nil, []byte(`plain text`))
	assert.Equal(t, "plain text", out["payload"])
}
