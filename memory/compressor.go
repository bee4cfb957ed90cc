package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	memctx "github.com/fenwick-labs/agentengine/context"
)

// Strategy names one of the seven compression strategies from spec
// §4.3.
type Strategy string

const (
	StrategyNone         Strategy = "none"
	StrategyTruncate     Strategy = "truncate"
	StrategyMinify       Strategy = "minify"
	StrategyExtract      Strategy = "extract"
	StrategySummarize    Strategy = "summarize"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyToolAware    Strategy = "tool_aware"
)

// Lossiness qualifies how much information a strategy discards.
type Lossiness string

const (
	LossinessNone     Lossiness = "none"
	LossinessMinimal  Lossiness = "minimal"
	LossinessModerate Lossiness = "moderate"
	LossinessHigh     Lossiness = "high"
)

// ToolCompressorLevel selects how aggressively a per-tool compressor
// should summarize its content (spec §4.3 TOOL_AWARE).
type ToolCompressorLevel string

const (
	LevelLight     ToolCompressorLevel = "light"
	LevelModerate  ToolCompressorLevel = "moderate"
	LevelAggressive ToolCompressorLevel = "aggressive"
)

// ToolCompressor compresses one tool's raw content at the given level,
// preserving fields the tool considers semantically critical (ids,
// bounds, exit codes, error messages per spec §4.3).
type ToolCompressor func(content string, level ToolCompressorLevel) string

// Summarizer delegates SUMMARIZE/HIERARCHICAL compression to an
// injected function (typically backed by an LLM call). A nil
// Summarizer makes SUMMARIZE/HIERARCHICAL fail per spec §4.3
// ("fail if absent").
type Summarizer func(ctx context.Context, text string, prompt string) (string, error)

// CompressOptions configures a single Compress call (spec §4.3).
type CompressOptions struct {
	Strategy         Strategy
	TargetTokens     int
	TargetRatio      float64
	PreservePatterns []*regexp.Regexp
	SummaryPrompt    string
	Summarizer       Summarizer
	ToolCompressors  map[string]ToolCompressor
	Model            string
}

// CompressResult is the outcome of a Compress call.
type CompressResult struct {
	Compressed []*memctx.Message
	Ratio      float64
	Strategy   Strategy
	Lossiness  Lossiness
}

// Compress applies opts.Strategy to messages, returning new message
// values (inputs are never mutated in place, matching the Context
// Manager's invariant that tier insertion order is preserved for
// user-visible tiers).
func Compress(ctx context.Context, messages []*memctx.Message, opts CompressOptions) (CompressResult, error) {
	before := totalTokens(messages)

	var out []*memctx.Message
	var lossiness Lossiness
	var err error

	switch opts.Strategy {
	case StrategyNone, "":
		out, lossiness = messages, LossinessNone
	case StrategyTruncate:
		out, lossiness = truncateMessages(messages, opts.TargetTokens), LossinessHigh
	case StrategyMinify:
		out, lossiness = minifyMessages(messages, opts.PreservePatterns), LossinessMinimal
	case StrategyExtract:
		out, lossiness = extractMessages(messages, opts.TargetTokens, opts.PreservePatterns), LossinessModerate
	case StrategySummarize:
		out, err = summarizeMessages(ctx, messages, opts)
		lossiness = LossinessModerate
	case StrategyHierarchical:
		out, err = hierarchicalSummarize(ctx, messages, opts)
		lossiness = LossinessModerate
	case StrategyToolAware:
		out, lossiness = toolAwareCompress(messages, opts)
	default:
		return CompressResult{}, fmt.Errorf("memory: unknown compression strategy %q", opts.Strategy)
	}

	if err != nil {
		return CompressResult{}, err
	}

	after := totalTokens(out)
	ratio := 1.0
	if before > 0 {
		ratio = float64(after) / float64(before)
	}

	return CompressResult{Compressed: out, Ratio: ratio, Strategy: opts.Strategy, Lossiness: lossiness}, nil
}

func totalTokens(messages []*memctx.Message) int {
	total := 0
	for _, m := range messages {
		total += m.Tokens
	}
	return total
}

// truncateMessages keeps the newest messages that fit within budget
// (spec §4.3 TRUNCATE).
func truncateMessages(messages []*memctx.Message, targetTokens int) []*memctx.Message {
	ordered := append([]*memctx.Message(nil), messages...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.After(ordered[j].Timestamp) })

	var kept []*memctx.Message
	used := 0
	for _, m := range ordered {
		if used+m.Tokens > targetTokens && len(kept) > 0 {
			continue
		}
		kept = append(kept, m)
		used += m.Tokens
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
	return kept
}

var blankLineRe = regexp.MustCompile(`\n{2,}`)
var multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)

// minifyMessages collapses redundant whitespace while leaving spans
// matched by PreservePatterns untouched (spec §4.3 MINIFY, expected
// ratio ~0.85).
func minifyMessages(messages []*memctx.Message, preserve []*regexp.Regexp) []*memctx.Message {
	out := make([]*memctx.Message, len(messages))
	for i, m := range messages {
		clone := m.Clone()
		if !matchesAny(m.Text, preserve) {
			clone.Text = minifyText(m.Text)
			clone.Tokens = EstimateTokens(clone.Text)
		}
		out[i] = clone
	}
	return out
}

func minifyText(s string) string {
	s = blankLineRe.ReplaceAllString(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = multiSpaceRe.ReplaceAllString(strings.TrimRight(line, " \t"), " ")
	}
	return strings.Join(lines, "\n")
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

var headerRe = regexp.MustCompile(`(?m)^#{1,6}\s|^[A-Z][A-Za-z ]+:$`)
var listItemRe = regexp.MustCompile(`(?m)^\s*[-*\d]+[.)]?\s+`)
var keywordRe = regexp.MustCompile(`(?i)\b(error|warning|important|todo)\b`)

// extractMessages scores each line and keeps the highest scoring lines
// within a per-message token budget, preserving original order (spec
// §4.3 EXTRACT, expected ratio ~0.4).
func extractMessages(messages []*memctx.Message, targetTokens int, preserve []*regexp.Regexp) []*memctx.Message {
	if len(messages) == 0 {
		return messages
	}
	perMessageBudget := targetTokens / len(messages)
	if perMessageBudget < 1 {
		perMessageBudget = 1
	}

	out := make([]*memctx.Message, len(messages))
	for i, m := range messages {
		clone := m.Clone()
		clone.Text = extractText(m.Text, perMessageBudget, preserve)
		clone.Tokens = EstimateTokens(clone.Text)
		out[i] = clone
	}
	return out
}

type scoredLine struct {
	index int
	line  string
	score float64
}

func extractText(text string, targetTokens int, preserve []*regexp.Regexp) string {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return text
	}

	scored := make([]scoredLine, len(lines))
	for i, line := range lines {
		scored[i] = scoredLine{index: i, line: line, score: scoreLine(line, preserve)}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var kept []scoredLine
	used := 0
	for _, sl := range scored {
		cost := EstimateTokens(sl.line)
		if used+cost > targetTokens && len(kept) > 0 {
			continue
		}
		kept = append(kept, sl)
		used += cost
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].index < kept[j].index })

	out := make([]string, len(kept))
	for i, sl := range kept {
		out[i] = sl.line
	}
	return strings.Join(out, "\n")
}

func scoreLine(line string, preserve []*regexp.Regexp) float64 {
	score := 1.0
	if headerRe.MatchString(line) {
		score += 3
	}
	if listItemRe.MatchString(line) {
		score += 1.5
	}
	if keywordRe.MatchString(line) {
		score += 2.5
	}
	if codeSignatureRe.MatchString(line) {
		score += 2
	}
	if matchesAny(line, preserve) {
		score += 4
	}

	length := len(strings.TrimSpace(line))
	switch {
	case length == 0:
		score -= 1
	case length > 200:
		score -= 1
	}

	return score
}

// summarizeMessages delegates to opts.Summarizer, producing one
// non-compressible summary message (spec §4.3 SUMMARIZE).
func summarizeMessages(ctx context.Context, messages []*memctx.Message, opts CompressOptions) ([]*memctx.Message, error) {
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("memory: SUMMARIZE strategy requires a Summarizer")
	}

	joined := joinMessageText(messages)
	summary, err := opts.Summarizer(ctx, joined, opts.SummaryPrompt)
	if err != nil {
		return nil, fmt.Errorf("memory: summarizer failed: %w", err)
	}

	msg := memctx.NewMessage(memctx.RoleAssistant, tierOf(messages), summary, memctx.PriorityNormal)
	msg.Compressible = false
	msg.SetTokens(EstimateTokens(summary))
	return []*memctx.Message{msg}, nil
}

// hierarchicalSummarize chunks messages 20-per-chunk, summarizes each
// chunk, then summarizes the summaries again if still over target
// (spec §4.3 HIERARCHICAL).
func hierarchicalSummarize(ctx context.Context, messages []*memctx.Message, opts CompressOptions) ([]*memctx.Message, error) {
	if opts.Summarizer == nil {
		return nil, fmt.Errorf("memory: HIERARCHICAL strategy requires a Summarizer")
	}

	const chunkSize = 20
	var chunkSummaries []*memctx.Message

	for start := 0; start < len(messages); start += chunkSize {
		end := start + chunkSize
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]
		summarized, err := summarizeMessages(ctx, chunk, opts)
		if err != nil {
			return nil, err
		}
		chunkSummaries = append(chunkSummaries, summarized...)
	}

	if totalTokens(chunkSummaries) <= opts.TargetTokens || len(chunkSummaries) <= 1 {
		return chunkSummaries, nil
	}

	return summarizeMessages(ctx, chunkSummaries, opts)
}

// toolAwareCompress applies a per-tool compressor (keyed by the
// message's "tool_name" metadata) at a level chosen from
// budget/currentTokens, falling back to EXTRACT when no per-tool
// compressor is registered (spec §4.3 TOOL_AWARE).
func toolAwareCompress(messages []*memctx.Message, opts CompressOptions) ([]*memctx.Message, Lossiness) {
	out := make([]*memctx.Message, 0, len(messages))
	var anyExtracted bool

	perMessageBudget := opts.TargetTokens
	if len(messages) > 0 {
		perMessageBudget = opts.TargetTokens / len(messages)
	}

	for _, m := range messages {
		toolName := m.Metadata["tool_name"]
		compressor, ok := opts.ToolCompressors[toolName]
		if !ok {
			clone := m.Clone()
			clone.Text = extractText(m.Text, maxInt(perMessageBudget, 1), opts.PreservePatterns)
			clone.Tokens = EstimateTokens(clone.Text)
			out = append(out, clone)
			anyExtracted = true
			continue
		}

		level := levelFor(perMessageBudget, m.Tokens)
		clone := m.Clone()
		clone.Text = compressor(m.Text, level)
		clone.Tokens = EstimateTokens(clone.Text)
		out = append(out, clone)
	}

	lossiness := LossinessModerate
	if anyExtracted {
		lossiness = LossinessModerate
	}
	return out, lossiness
}

func levelFor(budget, current int) ToolCompressorLevel {
	if current <= 0 {
		return LevelLight
	}
	ratio := float64(budget) / float64(current)
	switch {
	case ratio >= 0.6:
		return LevelLight
	case ratio >= 0.3:
		return LevelModerate
	default:
		return LevelAggressive
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func joinMessageText(messages []*memctx.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = fmt.Sprintf("%s: %s", m.Role, m.Text)
	}
	return strings.Join(parts, "\n")
}

func tierOf(messages []*memctx.Message) memctx.Tier {
	if len(messages) == 0 {
		return memctx.TierArchived
	}
	return messages[0].Tier
}

// hasToolContent reports whether any message carries tool-originated
// content, used by GetRecommendedStrategy.
func hasToolContent(messages []*memctx.Message) bool {
	for _, m := range messages {
		if m.Role == memctx.RoleTool || m.Metadata["tool_name"] != "" {
			return true
		}
	}
	return false
}

// GetRecommendedStrategy implements the selection policy from spec
// §4.3's getRecommendedStrategy pseudocode.
func GetRecommendedStrategy(target, current int, messages []*memctx.Message, hasSummarizer bool) Strategy {
	if current <= 0 {
		return StrategyNone
	}
	ratio := float64(target) / float64(current)
	toolContent := hasToolContent(messages)

	switch {
	case ratio >= 1:
		return StrategyNone
	case ratio >= 0.8:
		return StrategyMinify
	case toolContent && ratio >= 0.3 && ratio < 0.8:
		return StrategyToolAware
	case ratio >= 0.5:
		return StrategyExtract
	case hasSummarizer && ratio >= 0.2:
		return StrategySummarize
	case hasSummarizer:
		return StrategyHierarchical
	case toolContent:
		return StrategyToolAware
	default:
		return StrategyTruncate
	}
}
