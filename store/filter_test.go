package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSessionFilter(t *testing.T) {
	t.Run("empty filter yields no conditions", func(t *testing.T) {
		conds, err := CompileSessionFilter("")
		require.NoError(t, err)
		assert.Empty(t, conds)
	})

	t.Run("top-level equality", func(t *testing.T) {
		conds, err := CompileSessionFilter(`user_id == "alice"`)
		require.NoError(t, err)
		require.Len(t, conds, 1)
		assert.Equal(t, "user_id", conds[0].Field)
		assert.Equal(t, "alice", conds[0].Value)
	})

	t.Run("metadata equality", func(t *testing.T) {
		conds, err := CompileSessionFilter(`metadata.dialogue_type == "human_ai_private"`)
		require.NoError(t, err)
		require.Len(t, conds, 1)
		assert.Equal(t, "dialogue_type", conds[0].MetadataKey)
		assert.Equal(t, "human_ai_private", conds[0].Value)
	})

	t.Run("reversed operands", func(t *testing.T) {
		conds, err := CompileSessionFilter(`"alice" == user_id`)
		require.NoError(t, err)
		require.Len(t, conds, 1)
		assert.Equal(t, "user_id", conds[0].Field)
	})

	t.Run("conjunction", func(t *testing.T) {
		conds, err := CompileSessionFilter(`user_id == "alice" && metadata.status == "active"`)
		require.NoError(t, err)
		require.Len(t, conds, 2)
	})

	t.Run("unsupported operator", func(t *testing.T) {
		_, err := CompileSessionFilter(`user_id != "alice"`)
		assert.Error(t, err)
	})

	t.Run("undeclared field", func(t *testing.T) {
		_, err := CompileSessionFilter(`nonsense == "x"`)
		assert.Error(t, err)
	})
}

func TestFilterCondMatch(t *testing.T) {
	session := &Session{
		ID:     "s1",
		UserID: "alice",
		Title:  "standup",
		Metadata: SessionMetadata{
			DialogueType: DialogueHumanHumanGroup,
			Participants: []string{"alice", "bob"},
			Status:       SessionActive,
			Extra:        map[string]any{"workspace": "eng", "priority": float64(3)},
		},
	}

	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"matching user_id", `user_id == "alice"`, true},
		{"mismatching user_id", `user_id == "bob"`, false},
		{"matching title", `title == "standup"`, true},
		{"dialogue type canonicalized", `metadata.dialogue_type == "human_to_human_group"`, true},
		{"status", `metadata.status == "active"`, true},
		{"extra string key", `metadata.workspace == "eng"`, true},
		{"extra numeric key", `metadata.priority == 3`, true},
		{"absent extra key", `metadata.missing == "x"`, false},
		{"conjunction all match", `user_id == "alice" && metadata.status == "active"`, true},
		{"conjunction one fails", `user_id == "alice" && metadata.status == "archived"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conds, err := CompileSessionFilter(tt.filter)
			require.NoError(t, err)
			matched := true
			for _, cond := range conds {
				if !cond.Match(session) {
					matched = false
					break
				}
			}
			assert.Equal(t, tt.want, matched)
		})
	}
}

func TestFilterCondValueText(t *testing.T) {
	assert.Equal(t, "alice", FilterCond{Value: "alice"}.ValueText())
	assert.Equal(t, "true", FilterCond{Value: true}.ValueText())
	assert.Equal(t, "false", FilterCond{Value: false}.ValueText())
	assert.Equal(t, "42", FilterCond{Value: int64(42)}.ValueText())
}
