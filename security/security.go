// Package security signs, authenticates, and encrypts message envelopes.
//
// Outbound envelopes get an auth token derived from the sender identity, an
// HMAC-SHA256 signature over the canonical envelope form, and an
// AES-256-GCM encrypted payload marked "encrypted:" + base64. Inbound
// processing verifies in the same order and fails closed: any check failure
// means the envelope must be dropped.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
)

// encryptedMarker prefixes an encrypted payload string on the wire.
const encryptedMarker = "encrypted:"

// KeySize is the required symmetric key length (AES-256).
const KeySize = 32

// Config controls which protections are applied. All default on in
// production; signature and auth checks are independently toggleable.
type Config struct {
	EnableAuth      bool
	EnableSignature bool
	EnableEncrypt   bool
	Key             []byte // 32-byte symmetric key
}

// DefaultConfig enables every protection with the given key.
func DefaultConfig(key []byte) Config {
	return Config{
		EnableAuth:      true,
		EnableSignature: true,
		EnableEncrypt:   true,
		Key:             key,
	}
}

// Processor applies and verifies envelope security.
type Processor struct {
	cfg  Config
	aead cipher.AEAD
}

// New creates a processor. The key must be exactly KeySize bytes when any
// protection is enabled.
func New(cfg Config) (*Processor, error) {
	p := &Processor{cfg: cfg}

	if !cfg.EnableAuth && !cfg.EnableSignature && !cfg.EnableEncrypt {
		return p, nil
	}
	if len(cfg.Key) != KeySize {
		return nil, errors.WrapFatal(errors.ErrMissingKey, "Processor", "New",
			"symmetric key must be 32 bytes")
	}

	if cfg.EnableEncrypt {
		block, err := aes.NewCipher(cfg.Key)
		if err != nil {
			return nil, errors.WrapFatal(err, "Processor", "New", "initialize cipher")
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.WrapFatal(err, "Processor", "New", "initialize GCM")
		}
		p.aead = aead
	}
	return p, nil
}

// Secure returns a copy of the envelope with the auth token, signature,
// and encrypted payload applied per the configuration. The input envelope
// is not modified.
func (p *Processor) Secure(e *envelope.Envelope) (*envelope.Envelope, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	out := e.Clone()
	if out.Security == nil {
		out.Security = &envelope.SecurityParameters{}
	}

	if p.cfg.EnableAuth {
		out.Security.AuthToken = p.authToken(out.SenderID)
	}

	if p.cfg.EnableEncrypt {
		sealed, err := p.EncryptPayload(out.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = sealed
	}

	// Sign last so the signature covers the encrypted payload and token.
	if p.cfg.EnableSignature {
		sig, err := p.sign(out)
		if err != nil {
			return nil, err
		}
		out.Security.Signature = sig
	}

	return out, nil
}

// AuthenticateAndProcess verifies the auth token and signature, then
// decrypts the payload if it carries the encrypted marker. Any failure
// returns a security error; the caller must drop the envelope.
func (p *Processor) AuthenticateAndProcess(e *envelope.Envelope) (*envelope.Envelope, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if p.cfg.EnableAuth {
		if e.Security == nil || e.Security.AuthToken == "" {
			return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor",
				"AuthenticateAndProcess", "missing auth token")
		}
		expected := p.authToken(e.SenderID)
		if !hmac.Equal([]byte(e.Security.AuthToken), []byte(expected)) {
			return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor",
				"AuthenticateAndProcess", "auth token mismatch")
		}
	}

	if p.cfg.EnableSignature {
		if e.Security == nil || e.Security.Signature == "" {
			return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor",
				"AuthenticateAndProcess", "missing signature")
		}
		expected, err := p.sign(e)
		if err != nil {
			return nil, err
		}
		if !hmac.Equal([]byte(e.Security.Signature), []byte(expected)) {
			return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor",
				"AuthenticateAndProcess", "signature mismatch")
		}
	}

	out := e.Clone()
	if IsEncrypted(out.Payload) {
		plain, err := p.DecryptPayload(out.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = plain
	}
	return out, nil
}

// authToken derives a deterministic per-sender token from the shared key.
func (p *Processor) authToken(senderID string) string {
	mac := hmac.New(sha256.New, p.cfg.Key)
	mac.Write([]byte("auth:" + senderID))
	return hex.EncodeToString(mac.Sum(nil))
}

// sign computes the HMAC-SHA256 signature over the canonical envelope form
// (sorted keys, signature field excluded).
func (p *Processor) sign(e *envelope.Envelope) (string, error) {
	canonical, err := e.Canonical()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, p.cfg.Key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// EncryptPayload seals a payload with AES-256-GCM and returns it as a JSON
// string carrying the encrypted marker. The nonce is prepended to the
// ciphertext inside the base64 body.
func (p *Processor) EncryptPayload(payload json.RawMessage) (json.RawMessage, error) {
	if p.aead == nil {
		return nil, errors.WrapFatal(errors.ErrMissingKey, "Processor", "EncryptPayload",
			"encryption not configured")
	}

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.WrapFatal(err, "Processor", "EncryptPayload", "generate nonce")
	}

	sealed := p.aead.Seal(nonce, nonce, payload, nil)
	marker := encryptedMarker + base64.StdEncoding.EncodeToString(sealed)

	out, err := json.Marshal(marker)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "Processor", "EncryptPayload",
			"encode encrypted payload")
	}
	return out, nil
}

// DecryptPayload reverses EncryptPayload. Tampered or truncated ciphertext
// fails GCM authentication and is reported as a security failure.
func (p *Processor) DecryptPayload(payload json.RawMessage) (json.RawMessage, error) {
	if p.aead == nil {
		return nil, errors.WrapFatal(errors.ErrMissingKey, "Processor", "DecryptPayload",
			"encryption not configured")
	}

	var marker string
	if err := json.Unmarshal(payload, &marker); err != nil {
		return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor", "DecryptPayload",
			"payload is not an encrypted marker")
	}
	if !strings.HasPrefix(marker, encryptedMarker) {
		return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor", "DecryptPayload",
			"payload missing encrypted marker")
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(marker, encryptedMarker))
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor", "DecryptPayload",
			"decode ciphertext")
	}
	if len(sealed) < p.aead.NonceSize() {
		return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor", "DecryptPayload",
			"ciphertext too short")
	}

	nonce, ciphertext := sealed[:p.aead.NonceSize()], sealed[p.aead.NonceSize():]
	plain, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSecurityFailure, "Processor", "DecryptPayload",
			"authenticate ciphertext")
	}
	return plain, nil
}

// IsEncrypted reports whether a payload is an encrypted marker string.
func IsEncrypted(payload json.RawMessage) bool {
	var marker string
	if err := json.Unmarshal(payload, &marker); err != nil {
		return false
	}
	return strings.HasPrefix(marker, encryptedMarker)
}
