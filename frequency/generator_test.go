package frequency

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RcityLucas/Prizm-Agent-sub001/ai/llm"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
)

func TestRenderPostProcessing(t *testing.T) {
	fake := llm.NewFake("\"hello\n\n\nthere\"")
	g := NewGenerator(fake)

	expr := &Expression{
		Type:    store.ExpressionGreeting,
		Stage:   store.StageFamiliar,
		Content: "seed draft",
		User:    &UserInfo{Name: "Alice", Topics: []string{"chess"}},
	}
	require.NoError(t, g.Render(context.Background(), expr))

	assert.Equal(t, "hello\nthere.", expr.Content,
		"quotes trimmed, blank lines collapsed, terminal punctuation added")
	assert.Equal(t, "warm, relaxed", expr.Style)
	assert.False(t, expr.IsFallback)

	call := fake.LastCall()
	require.NotEmpty(t, call)
	assert.Contains(t, call[0].Content, "seed draft", "planner draft lands in the prompt")
	assert.Contains(t, call[0].Content, "chess")
}

func TestRenderLengthCap(t *testing.T) {
	g := NewGenerator(llm.NewFake(strings.Repeat("a", 300)))

	expr := &Expression{Type: store.ExpressionObservation, Stage: store.StageFriend}
	require.NoError(t, g.Render(context.Background(), expr))

	runes := []rune(expr.Content)
	assert.Len(t, runes, maxExpressionRunes)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestRenderFallback(t *testing.T) {
	fake := llm.NewFake()
	fake.Fail = true
	g := NewGenerator(fake)

	expr := &Expression{Type: store.ExpressionQuestion, Stage: store.StageStranger, Content: "seed"}
	require.NoError(t, g.Render(context.Background(), expr))

	assert.True(t, expr.IsFallback)
	assert.Equal(t, generatorFallbacks[store.ExpressionQuestion]["formal"], expr.Content)
	assert.Equal(t, "respectful, open-ended", expr.Style)
}

func TestRenderWithoutLLM(t *testing.T) {
	g := NewGenerator(nil)

	expr := &Expression{Type: store.ExpressionGreeting, Stage: store.StageCloseFriend, Content: "seed"}
	require.NoError(t, g.Render(context.Background(), expr))
	assert.True(t, expr.IsFallback)
	assert.Equal(t, generatorFallbacks[store.ExpressionGreeting]["casual"], expr.Content)
}

func TestPostProcess(t *testing.T) {
	assert.Equal(t, "done.", postProcess("  'done'  "))
	assert.Equal(t, "all set!", postProcess("all set!"))
	assert.Equal(t, "你到了吗？", postProcess("“你到了吗？”"))
	assert.Equal(t, "", postProcess("   "))
}
