package version

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentmesh/errors"
)

func testManager() *Manager {
	return NewManager(
		Info{Version: "0.1", CompatibleVersions: []string{"0.2"}},
		Info{Version: "0.2"},
		Info{Version: "1.0", BreakingChanges: []string{"payload schema reshaped"}},
	)
}

func TestNegotiateReturnsLowerVersion(t *testing.T) {
	m := testManager()

	v, err := m.Negotiate("0.1", "0.2")
	require.NoError(t, err)
	assert.Equal(t, "0.1", v)

	v, err = m.Negotiate("0.2", "0.1")
	require.NoError(t, err)
	assert.Equal(t, "0.1", v)
}

func TestNegotiateSameVersion(t *testing.T) {
	m := testManager()

	v, err := m.Negotiate("0.2", "0.2")
	require.NoError(t, err)
	assert.Equal(t, "0.2", v)
}

func TestNegotiateUnparsableKeepsClientVersion(t *testing.T) {
	m := NewManager(
		Info{Version: "experimental", CompatibleVersions: []string{"1.0"}},
		Info{Version: "1.0"},
	)

	// Whichever side speaks the unorderable version, the client's wins.
	v, err := m.Negotiate("experimental", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "experimental", v)

	v, err = m.Negotiate("1.0", "experimental")
	require.NoError(t, err)
	assert.Equal(t, "1.0", v)
}

func TestNegotiateUnsupportedVersion(t *testing.T) {
	m := testManager()

	_, err := m.Negotiate("9.9", "0.1")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrVersionIncompatible))

	_, err = m.Negotiate("0.1", "9.9")
	require.Error(t, err)
}

func TestNegotiateIncompatiblePair(t *testing.T) {
	m := testManager()

	// 1.0 is supported but has no edge to 0.1.
	_, err := m.Negotiate("0.1", "1.0")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrVersionIncompatible))
}

func TestConvertIdentity(t *testing.T) {
	m := testManager()

	payload := json.RawMessage(`{"a":1}`)
	out, err := m.Convert(payload, "0.1", "0.1")
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestConvertCompatibleWithoutConversion(t *testing.T) {
	m := testManager()

	payload := json.RawMessage(`{"a":1}`)
	out, err := m.Convert(payload, "0.1", "0.2")
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestConvertAppliesRegisteredConverter(t *testing.T) {
	m := testManager()
	m.RegisterConverter("0.2", "1.0", func(payload json.RawMessage) (json.RawMessage, error) {
		var v map[string]any
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		v["schema"] = "1.0"
		return json.Marshal(v)
	})

	out, err := m.Convert(json.RawMessage(`{"a":1}`), "0.2", "1.0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"schema":"1.0"}`, string(out))
}

func TestConvertMissingConverterFails(t *testing.T) {
	m := testManager()

	_, err := m.Convert(json.RawMessage(`{}`), "0.1", "1.0")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrVersionIncompatible))
}

func TestConvertConverterErrorSurfaces(t *testing.T) {
	m := testManager()
	m.RegisterConverter("0.2", "1.0", func(json.RawMessage) (json.RawMessage, error) {
		return nil, stderrors.New("shape mismatch")
	})

	_, err := m.Convert(json.RawMessage(`{}`), "0.2", "1.0")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrVersionIncompatible))
}

func TestRegisterConverterCreatesEdge(t *testing.T) {
	m := testManager()
	m.RegisterConverter("1.0", "0.2", func(p json.RawMessage) (json.RawMessage, error) {
		return p, nil
	})

	edge := m.Compatible("1.0", "0.2")
	assert.True(t, edge.IsCompatible)
	assert.True(t, edge.ConversionNeeded)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.1", "0.2", -1},
		{"0.2", "0.1", 1},
		{"0.1", "0.1", 0},
		{"0.9", "0.10", -1},
		{"1.0", "0.9", 1},
		{"1.2.3", "1.2.4", -1},
		{"abc", "1.0", -1},
		{"1.0", "abc", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
