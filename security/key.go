package security

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"os"

	"github.com/c360/agentmesh/errors"
)

// KeyEnvVar names the environment variable carrying the base64-encoded
// 32-byte symmetric key.
const KeyEnvVar = "AGENTMESH_HSP_KEY"

// LoadKey reads the symmetric key from the environment. A missing or
// malformed key is a hard startup error: silently generating a fresh key
// would break decryption of everything encrypted before a restart.
//
// Dev mode is the explicit opt-out: when devMode is true and no key is
// configured, an ephemeral key is generated and a warning logged. Messages
// encrypted with it are unreadable after restart, which is acceptable only
// in throwaway environments.
func LoadKey(devMode bool, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}

	encoded := os.Getenv(KeyEnvVar)
	if encoded == "" {
		if !devMode {
			return nil, errors.WrapFatal(errors.ErrMissingKey, "security", "LoadKey",
				KeyEnvVar+" is not set")
		}
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, errors.WrapFatal(err, "security", "LoadKey", "generate ephemeral key")
		}
		logger.Warn("no encryption key configured, generated ephemeral dev key",
			"env", KeyEnvVar)
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.WrapFatal(errors.ErrMissingKey, "security", "LoadKey",
			KeyEnvVar+" is not valid base64")
	}
	if len(key) != KeySize {
		return nil, errors.WrapFatal(errors.ErrMissingKey, "security", "LoadKey",
			KeyEnvVar+" must decode to 32 bytes")
	}
	return key, nil
}

// GenerateKey returns a fresh random key encoded for the environment
// variable, for provisioning tooling.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", errors.WrapFatal(err, "security", "GenerateKey", "read random source")
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
