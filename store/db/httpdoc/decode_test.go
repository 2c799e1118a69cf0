package httpdoc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []map[string]any
	}{
		{
			name: "bare array",
			raw:  `[{"id": "s1"}, {"id": "s2"}]`,
			want: []map[string]any{{"id": "s1"}, {"id": "s2"}},
		},
		{
			name: "array of result wrappers",
			raw:  `[{"result": [{"id": "s1"}], "status": "OK"}, {"result": [{"id": "s2"}]}]`,
			want: []map[string]any{{"id": "s1"}, {"id": "s2"}},
		},
		{
			name: "single result wrapper with list",
			raw:  `{"result": [{"id": "s1"}]}`,
			want: []map[string]any{{"id": "s1"}},
		},
		{
			name: "single result wrapper with record",
			raw:  `{"result": {"id": "s1"}}`,
			want: []map[string]any{{"id": "s1"}},
		},
		{
			name: "single record",
			raw:  `{"id": "s1", "title": "hello"}`,
			want: []map[string]any{{"id": "s1", "title": "hello"}},
		},
		{
			name: "null",
			raw:  `null`,
			want: []map[string]any{},
		},
		{
			name: "null result",
			raw:  `{"result": null}`,
			want: []map[string]any{},
		},
		{
			name: "empty array",
			raw:  `[]`,
			want: []map[string]any{},
		},
		{
			name: "empty body",
			raw:  ``,
			want: []map[string]any{},
		},
		{
			name: "nested wrappers",
			raw:  `[{"result": {"result": [{"id": "s1"}]}}]`,
			want: []map[string]any{{"id": "s1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRecords([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRecordsRejectsScalars(t *testing.T) {
	for _, raw := range []string{`42`, `"ok"`, `[1, 2]`, `true`} {
		_, err := decodeRecords([]byte(raw))
		require.Error(t, err, "raw=%s", raw)
	}
}

func TestDecodeRecordsInvalidJSON(t *testing.T) {
	_, err := decodeRecords([]byte(`{"result":`))
	require.Error(t, err)
}

func TestFieldAccessors(t *testing.T) {
	rec := map[string]any{
		"name":  "alice",
		"count": float64(42),
		"score": 0.75,
		"meta":  map[string]any{"k": "v"},
	}

	require.Equal(t, "alice", getString(rec, "name"))
	require.Equal(t, "", getString(rec, "count"))
	require.Equal(t, int64(42), getInt64(rec, "count"))
	require.Equal(t, int64(0), getInt64(rec, "missing"))
	require.Equal(t, 0.75, getFloat64(rec, "score"))
	require.Equal(t, map[string]any{"k": "v"}, getMap(rec, "meta"))
	require.Nil(t, getMap(rec, "name"))
}

func TestSessionRecordRoundTrip(t *testing.T) {
	session := &store.Session{
		ID:             "s1",
		UserID:         "alice",
		Title:          "morning chat",
		Nonce:          "n-1",
		CreatedTs:      1000,
		UpdatedTs:      2000,
		LastActivityTs: 2000,
		Metadata: store.SessionMetadata{
			DialogueType: store.DialogueHumanAIPrivate,
			Participants: []string{"alice", "assistant"},
			Status:       store.SessionActive,
			Extra:        map[string]any{"topic": "tea"},
		},
	}

	record, err := sessionRecord(session)
	require.NoError(t, err)

	// Numbers survive a JSON round-trip as float64, as they would coming
	// off the wire.
	var wire map[string]any
	require.NoError(t, remarshal(record, &wire))

	got, err := sessionFromRecord(wire)
	require.NoError(t, err)
	require.Equal(t, session, got)
}

func TestTurnRecordRoundTrip(t *testing.T) {
	turn := &store.Turn{
		ID:        "t1",
		SessionID: "s1",
		Role:      store.RoleHuman,
		Content:   "hello",
		CreatedTs: 1234,
		Metadata: store.TurnMetadata{
			SenderID:    "alice",
			MessageType: store.MessageText,
			HumanChat:   true,
			ReadAt:      map[string]int64{"bob": 2345},
		},
	}

	record, err := turnRecord(turn)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, remarshal(record, &wire))

	got, err := turnFromRecord(wire)
	require.NoError(t, err)
	require.Equal(t, turn, got)
}
