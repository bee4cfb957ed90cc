package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memctx "github.com/fenwick-labs/agentengine/context"
)

func newTestMessage(text string, tier memctx.Tier) *memctx.Message {
	m := memctx.NewMessage(memctx.RoleTool, tier, text, memctx.PriorityNormal)
	m.SetTokens(EstimateTokens(text))
	return m
}

func TestCompress_None(t *testing.T) {
	msgs := []*memctx.Message{newTestMessage("hello world", memctx.TierRecent)}
	res, err := Compress(context.Background(), msgs, CompressOptions{Strategy: StrategyNone})
	require.NoError(t, err)
	assert.Equal(t, LossinessNone, res.Lossiness)
	assert.InDelta(t, 1.0, res.Ratio, 0.001)
}

func TestCompress_TruncateKeepsNewest(t *testing.T) {
	old := newTestMessage(strings.Repeat("old ", 50), memctx.TierRecent)
	old.Timestamp = old.Timestamp.Add(-time.Hour)
	recent := newTestMessage(strings.Repeat("new ", 50), memctx.TierRecent)

	res, err := Compress(context.Background(), []*memctx.Message{old, recent}, CompressOptions{
		Strategy:     StrategyTruncate,
		TargetTokens: recent.Tokens,
	})
	require.NoError(t, err)
	require.Len(t, res.Compressed, 1)
	assert.Contains(t, res.Compressed[0].Text, "new")
}

func TestCompress_MinifyCollapsesWhitespace(t *testing.T) {
	msg := newTestMessage("line one\n\n\n\nline   two   with    spaces\n\n\n", memctx.TierRecent)
	res, err := Compress(context.Background(), []*memctx.Message{msg}, CompressOptions{Strategy: StrategyMinify})
	require.NoError(t, err)
	assert.NotContains(t, res.Compressed[0].Text, "\n\n\n")
	assert.NotContains(t, res.Compressed[0].Text, "   ")
	assert.LessOrEqual(t, res.Compressed[0].Tokens, msg.Tokens)
}

func TestCompress_ExtractPrioritizesHighScoringLines(t *testing.T) {
	text := "this is filler text that nobody cares about really\n" +
		"ERROR: something important broke\n" +
		"more filler that is not very interesting at all\n"
	msg := newTestMessage(text, memctx.TierRecent)

	res, err := Compress(context.Background(), []*memctx.Message{msg}, CompressOptions{
		Strategy:     StrategyExtract,
		TargetTokens: EstimateTokens("ERROR: something important broke") + 2,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Compressed[0].Text, "ERROR")
}

func TestCompress_Summarize_RequiresSummarizer(t *testing.T) {
	msg := newTestMessage("hello", memctx.TierRecent)
	_, err := Compress(context.Background(), []*memctx.Message{msg}, CompressOptions{Strategy: StrategySummarize})
	assert.Error(t, err)
}

func TestCompress_Summarize_UsesInjectedFunction(t *testing.T) {
	msg := newTestMessage("a long message about rectangles and circles", memctx.TierRecent)
	res, err := Compress(context.Background(), []*memctx.Message{msg}, CompressOptions{
		Strategy: StrategySummarize,
		Summarizer: func(ctx context.Context, text, prompt string) (string, error) {
			return "summary: shapes", nil
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Compressed, 1)
	assert.Equal(t, "summary: shapes", res.Compressed[0].Text)
	assert.False(t, res.Compressed[0].Compressible)
}

func TestCompress_ToolAware_FallsBackToExtractWithoutCompressor(t *testing.T) {
	msg := newTestMessage("ERROR: disk full\nsome unrelated chatter\n", memctx.TierRecent)
	msg.Metadata["tool_name"] = "disk_check"

	res, err := Compress(context.Background(), []*memctx.Message{msg}, CompressOptions{
		Strategy:     StrategyToolAware,
		TargetTokens: 20,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Compressed[0].Text, "ERROR")
}

func TestCompress_ToolAware_UsesRegisteredCompressor(t *testing.T) {
	msg := newTestMessage("id=42 status=ok huge blob of text we do not need", memctx.TierRecent)
	msg.Metadata["tool_name"] = "create_shape"

	called := false
	res, err := Compress(context.Background(), []*memctx.Message{msg}, CompressOptions{
		Strategy:     StrategyToolAware,
		TargetTokens: 10,
		ToolCompressors: map[string]ToolCompressor{
			"create_shape": func(content string, level ToolCompressorLevel) string {
				called = true
				return "id=42 status=ok"
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "id=42 status=ok", res.Compressed[0].Text)
}

// TestCompress_MinifyIsIdempotentAtItsTarget verifies spec §8 property
// 7: once a strategy has converged on a message, re-running it with
// the same options is a near no-op (second-pass ratio within 2% of 1).
func TestCompress_MinifyIsIdempotentAtItsTarget(t *testing.T) {
	msg := newTestMessage("line  one\n\n\nline   two\n\n\n\nline three", memctx.TierRecent)
	opts := CompressOptions{Strategy: StrategyMinify}

	once, err := Compress(context.Background(), []*memctx.Message{msg}, opts)
	require.NoError(t, err)

	twice, err := Compress(context.Background(), once.Compressed, opts)
	require.NoError(t, err)

	assert.Equal(t, once.Compressed[0].Text, twice.Compressed[0].Text)
	assert.InDelta(t, 1.0, twice.Ratio, 0.02)
}

func TestGetRecommendedStrategy(t *testing.T) {
	msgs := []*memctx.Message{memctx.NewMessage(memctx.RoleUser, memctx.TierRecent, "x", memctx.PriorityNormal)}
	toolMsgs := []*memctx.Message{newTestMessage("x", memctx.TierRecent)}
	toolMsgs[0].Metadata["tool_name"] = "foo"

	assert.Equal(t, StrategyNone, GetRecommendedStrategy(100, 50, msgs, false))
	assert.Equal(t, StrategyMinify, GetRecommendedStrategy(85, 100, msgs, false))
	assert.Equal(t, StrategyToolAware, GetRecommendedStrategy(50, 100, toolMsgs, false))
	assert.Equal(t, StrategyExtract, GetRecommendedStrategy(55, 100, msgs, false))
	assert.Equal(t, StrategySummarize, GetRecommendedStrategy(25, 100, msgs, true))
	assert.Equal(t, StrategyHierarchical, GetRecommendedStrategy(5, 100, msgs, true))
	assert.Equal(t, StrategyToolAware, GetRecommendedStrategy(5, 100, toolMsgs, false))
	assert.Equal(t, StrategyTruncate, GetRecommendedStrategy(5, 100, msgs, false))
}
