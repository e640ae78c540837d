package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"agent": {"ai_id": "agent-a"},
		"broker": {"urls": ["nats://broker:4222"]}
	}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "agent-a", cfg.Agent.AIID)
	assert.Equal(t, []string{"nats://broker:4222"}, cfg.Broker.URLs)
	assert.Equal(t, 10*time.Second, cfg.Reliability.AckTimeout.Std())
	assert.Equal(t, 3, cfg.Reliability.MaxAckRetries)
	assert.True(t, cfg.Security.EnableSignature)
	assert.True(t, cfg.IsProduction())
}

func TestLoadFileParsesDurationsAndTunables(t *testing.T) {
	path := writeConfig(t, `{
		"agent": {"ai_id": "agent-a", "environment": "development"},
		"broker": {"urls": ["nats://broker:4222"], "reconnect_wait": "500ms"},
		"reliability": {"ack_timeout": "2s", "max_ack_retries": 1},
		"fallback": {"enabled": false}
	}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Broker.ReconnectWait.Std())
	assert.Equal(t, 2*time.Second, cfg.Reliability.AckTimeout.Std())
	assert.Equal(t, 1, cfg.Reliability.MaxAckRetries)
	assert.False(t, cfg.Fallback.Enabled)
	assert.False(t, cfg.IsProduction())
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"agent": {"ai_id": "from-file"},
		"broker": {"urls": ["nats://file:4222"]}
	}`)

	t.Setenv("AGENTMESH_AI_ID", "from-env")
	t.Setenv("AGENTMESH_BROKER_URLS", "nats://one:4222, nats://two:4222")
	t.Setenv("AGENTMESH_HTTP_PORT", "9090")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Agent.AIID)
	assert.Equal(t, []string{"nats://one:4222", "nats://two:4222"}, cfg.Broker.URLs)
	assert.Equal(t, 9090, cfg.HTTP.Port)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing ai_id",
			content: `{"broker": {"urls": ["nats://broker:4222"]}}`,
		},
		{
			name:    "missing broker urls",
			content: `{"agent": {"ai_id": "agent-a"}, "broker": {"urls": []}}`,
		},
		{
			name: "bad environment",
			content: `{"agent": {"ai_id": "a", "environment": "staging"},
				"broker": {"urls": ["nats://broker:4222"]}}`,
		},
		{
			name: "bad balancing strategy",
			content: `{"agent": {"ai_id": "a"},
				"broker": {"urls": ["nats://broker:4222"], "balancing": {"strategy": "random"}}}`,
		},
		{
			name: "bad duration",
			content: `{"agent": {"ai_id": "a"},
				"broker": {"urls": ["nats://broker:4222"]},
				"reliability": {"ack_timeout": "soon"}}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestSafeConfigUpdate(t *testing.T) {
	sc := NewSafeConfig(Default("agent-a"))

	got := sc.Get()
	assert.Equal(t, "agent-a", got.Agent.AIID)

	// Mutating the copy must not leak into the holder.
	got.Agent.AIID = "mutated"
	assert.Equal(t, "agent-a", sc.Get().Agent.AIID)

	next := Default("agent-b")
	require.NoError(t, sc.Update(next))
	assert.Equal(t, "agent-b", sc.Get().Agent.AIID)

	assert.Error(t, sc.Update(nil))
	assert.Error(t, sc.Update(&Config{}))
}
