package security

import (
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(DefaultConfig(testKey()))
	require.NoError(t, err)
	return p
}

func testEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	payload, err := envelope.EncodePayload(&envelope.Fact{
		ID:              "fact-1",
		StatementType:   "natural_language",
		StatementNL:     "water is wet",
		SourceAIID:      "agent-a",
		Timestamp:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ConfidenceScore: 1.0,
	})
	require.NoError(t, err)
	return envelope.New(envelope.TypeFact, "agent-a", envelope.RecipientAll, payload, envelope.QoSParameters{})
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(DefaultConfig(nil))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMissingKey))

	_, err = New(DefaultConfig([]byte("short")))
	require.Error(t, err)
}

func TestNewAllowsDisabledProcessor(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	e := testEnvelope(t)
	out, err := p.Secure(e)
	require.NoError(t, err)
	assert.JSONEq(t, string(e.Payload), string(out.Payload))
}

func TestSecureRoundTrip(t *testing.T) {
	p := testProcessor(t)
	e := testEnvelope(t)

	secured, err := p.Secure(e)
	require.NoError(t, err)

	require.NotNil(t, secured.Security)
	assert.NotEmpty(t, secured.Security.AuthToken)
	assert.NotEmpty(t, secured.Security.Signature)
	assert.True(t, IsEncrypted(secured.Payload))

	// The input envelope is untouched.
	assert.Nil(t, e.Security)
	assert.False(t, IsEncrypted(e.Payload))

	opened, err := p.AuthenticateAndProcess(secured)
	require.NoError(t, err)
	assert.JSONEq(t, string(e.Payload), string(opened.Payload))
}

func TestSecureSurvivesWireRoundTrip(t *testing.T) {
	p := testProcessor(t)

	secured, err := p.Secure(testEnvelope(t))
	require.NoError(t, err)

	data, err := secured.Marshal()
	require.NoError(t, err)
	decoded, err := envelope.Unmarshal(data)
	require.NoError(t, err)

	// Verification is over the canonical form, so field order on the wire
	// cannot break it.
	opened, err := p.AuthenticateAndProcess(decoded)
	require.NoError(t, err)

	fact, err := envelope.DecodePayload(opened)
	require.NoError(t, err)
	assert.Equal(t, "water is wet", fact.(*envelope.Fact).StatementNL)
}

func TestTamperedPayloadRejected(t *testing.T) {
	p := testProcessor(t)

	secured, err := p.Secure(testEnvelope(t))
	require.NoError(t, err)

	var marker string
	require.NoError(t, json.Unmarshal(secured.Payload, &marker))
	sealed, err := base64.StdEncoding.DecodeString(marker[len("encrypted:"):])
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF
	tampered, err := json.Marshal("encrypted:" + base64.StdEncoding.EncodeToString(sealed))
	require.NoError(t, err)
	secured.Payload = tampered

	_, err = p.AuthenticateAndProcess(secured)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSecurityFailure))
}

func TestTamperedFieldBreaksSignature(t *testing.T) {
	p := testProcessor(t)

	secured, err := p.Secure(testEnvelope(t))
	require.NoError(t, err)

	secured.SenderID = "impostor"
	_, err = p.AuthenticateAndProcess(secured)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSecurityFailure))
}

func TestWrongSenderTokenRejected(t *testing.T) {
	p := testProcessor(t)

	// Token minted for agent-a presented on an envelope from agent-b.
	a, err := p.Secure(testEnvelope(t))
	require.NoError(t, err)

	b := testEnvelope(t)
	b.SenderID = "agent-b"
	secured, err := p.Secure(b)
	require.NoError(t, err)
	secured.Security.AuthToken = a.Security.AuthToken

	_, err = p.AuthenticateAndProcess(secured)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSecurityFailure))
}

func TestMissingSecurityParametersRejected(t *testing.T) {
	p := testProcessor(t)

	_, err := p.AuthenticateAndProcess(testEnvelope(t))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSecurityFailure))
}

func TestWrongKeyCannotDecrypt(t *testing.T) {
	p := testProcessor(t)
	secured, err := p.Secure(testEnvelope(t))
	require.NoError(t, err)

	other := make([]byte, KeySize)
	for i := range other {
		other[i] = byte(255 - i)
	}
	q, err := New(DefaultConfig(other))
	require.NoError(t, err)

	_, err = q.AuthenticateAndProcess(secured)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSecurityFailure))
}

func TestTogglesAreIndependent(t *testing.T) {
	cfg := Config{EnableSignature: true, Key: testKey()}
	p, err := New(cfg)
	require.NoError(t, err)

	secured, err := p.Secure(testEnvelope(t))
	require.NoError(t, err)

	assert.Empty(t, secured.Security.AuthToken)
	assert.NotEmpty(t, secured.Security.Signature)
	assert.False(t, IsEncrypted(secured.Payload))

	_, err = p.AuthenticateAndProcess(secured)
	require.NoError(t, err)
}

func TestLoadKeyMissingInProduction(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	_, err := LoadKey(false, nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMissingKey))
}

func TestLoadKeyDevModeGeneratesEphemeral(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	key, err := LoadKey(true, nil)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}

func TestLoadKeyFromEnvironment(t *testing.T) {
	encoded, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv(KeyEnvVar, encoded)

	key, err := LoadKey(false, nil)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}

func TestLoadKeyRejectsMalformed(t *testing.T) {
	t.Setenv(KeyEnvVar, "not-base64!!")
	_, err := LoadKey(false, nil)
	require.Error(t, err)

	t.Setenv(KeyEnvVar, base64.StdEncoding.EncodeToString([]byte("short")))
	_, err = LoadKey(false, nil)
	require.Error(t, err)
}
