package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTripPreservesUnknownFields(t *testing.T) {
	// A snapshot written by a newer client with fields this version
	// does not know about.
	input := `{
		"code": "cube(10)",
		"objects": [{"kind":"solid","mesh":"..."}],
		"schemaVersion": 3,
		"materials": {"steel": {"density": 7.85}},
		"renderHints": [1, 2, 3]
	}`

	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(input), &snap))

	assert.Equal(t, "cube(10)", snap.Code)
	assert.Equal(t, 3, snap.SchemaVersion)
	assert.JSONEq(t, `[{"kind":"solid","mesh":"..."}]`, string(snap.Objects))

	out, err := json.Marshal(&snap)
	require.NoError(t, err)

	// The unknown fields survive the round trip untouched.
	assert.JSONEq(t, input, string(out))
}

func TestSnapshotRoundTripSecondGeneration(t *testing.T) {
	input := `{"code":"x","schemaVersion":1,"future":{"a":1}}`

	var first Snapshot
	require.NoError(t, json.Unmarshal([]byte(input), &first))

	mid, err := json.Marshal(&first)
	require.NoError(t, err)

	var second Snapshot
	require.NoError(t, json.Unmarshal(mid, &second))

	out, err := json.Marshal(&second)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestSnapshotUnmarshalCorrupt(t *testing.T) {
	var snap Snapshot
	err := json.Unmarshal([]byte(`{"code": 42}`), &snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptData)

	err = json.Unmarshal([]byte(`not json`), &snap)
	require.Error(t, err)
}

func TestNamespacesRoundTripPreservesUnknownFields(t *testing.T) {
	input := `{
		"entries": {"std": {"version": "1.0"}},
		"imports": ["a", "b"]
	}`

	var ns Namespaces
	require.NoError(t, json.Unmarshal([]byte(input), &ns))
	require.Contains(t, ns.Entries, "std")

	out, err := json.Marshal(&ns)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestTombstoneExpired(t *testing.T) {
	now := time.Now().UnixMilli()

	day := 24 * time.Hour

	fresh := &Tombstone{DocumentID: "d1", DeletedAt: now - day.Milliseconds()}
	assert.False(t, fresh.Expired(now), "1-day-old tombstone must be honored")

	stale := &Tombstone{DocumentID: "d2", DeletedAt: now - 31*day.Milliseconds()}
	assert.True(t, stale.Expired(now), "31-day-old tombstone must be treated as absent")
}
