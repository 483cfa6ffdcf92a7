package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/models"
)

// SummaryMetadataKey marks messages that carry a compression summary.
const SummaryMetadataKey = "conductor_summary"

// Compression tuning constants.
const (
	// minCompressibleMessages is the smallest history worth compressing.
	minCompressibleMessages = 4

	// minSplitIndex keeps the first messages of a conversation verbatim;
	// a split landing inside them means there is nothing useful to fold.
	minSplitIndex = 2

	// maxFormattedContentChars truncates a single message's content in the
	// transcript sent to the summarizer.
	maxFormattedContentChars = 2000

	// summarizeTimeout bounds the summarization call independently of the
	// surrounding turn, so a hung summarization never blocks cancellation.
	summarizeTimeout = 60 * time.Second
)

const truncationMarker = "\n...[content truncated]"

const (
	summaryOpenTag  = "<summary>"
	summaryCloseTag = "</summary>"
)

const compressionInstruction = `You are compressing an agent conversation to reclaim context space.
Write a dense summary of the transcript below. Preserve:
- the user's goals and constraints
- decisions made and their reasons
- tool executions and their outcomes (including failures)
- any unresolved tasks or open questions
Wrap the summary in ` + summaryOpenTag + ` and ` + summaryCloseTag + ` tags.

Transcript:

`

// Summarizer is the external summarization capability: a simple one-shot
// chat call. Injected so tests can fake it and hosts can route it to any
// provider.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, prompt string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// CompressResult reports the outcome of a compression attempt. When
// Compressed is false, Messages is the original history untouched.
type CompressResult struct {
	Compressed bool
	Messages   []*models.Message

	// Summary is the raw summary text, without the framing
	// NewSummaryMessage adds. Checkpoints persist this form so resuming
	// does not frame it twice.
	Summary string

	// LastCompressedID is the ID of the newest message folded into the
	// summary; persisted in the checkpoint for resume.
	LastCompressedID string

	TokensBefore   int
	TokensAfter    int
	MessagesBefore int
	MessagesAfter  int
}

// Compressor folds the older part of a history into a summary message while
// preserving a verbatim tail. Compression failure never corrupts or drops
// history: any error returns the original messages with Compressed false.
type Compressor struct {
	summarizer Summarizer
}

// NewCompressor creates a compressor backed by the given summarizer.
func NewCompressor(summarizer Summarizer) *Compressor {
	return &Compressor{summarizer: summarizer}
}

// Compress attempts to shrink history, keeping roughly preserveRatio of the
// estimated tokens verbatim at the tail. The split never tears a
// tool-call/response unit: running Validate on the output always passes.
func (c *Compressor) Compress(ctx context.Context, history []*models.Message, preserveRatio float64) (CompressResult, error) {
	noop := CompressResult{
		Compressed:     false,
		Messages:       history,
		MessagesBefore: len(history),
		MessagesAfter:  len(history),
	}

	if len(history) < minCompressibleMessages {
		return noop, nil
	}
	if preserveRatio <= 0 || preserveRatio >= 1 {
		preserveRatio = 0.3
	}

	totalTokens := EstimateMessages(history)
	noop.TokensBefore = totalTokens
	noop.TokensAfter = totalTokens

	split := splitIndex(history, preserveRatio, totalTokens)
	if split < minSplitIndex {
		return noop, nil
	}

	toCompress := history[:split]
	preserved := history[split:]

	prompt := compressionInstruction + FormatTranscript(toCompress)

	summarizeCtx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()
	raw, err := c.summarizer.Summarize(summarizeCtx, prompt)
	if err != nil {
		return noop, fmt.Errorf("summarization failed: %w", err)
	}

	summary := extractSummary(raw)
	if strings.TrimSpace(summary) == "" {
		return noop, fmt.Errorf("summarization returned empty summary")
	}

	summaryMsg := NewSummaryMessage(summary)
	compressed := make([]*models.Message, 0, len(preserved)+1)
	compressed = append(compressed, summaryMsg)
	compressed = append(compressed, preserved...)

	return CompressResult{
		Compressed:       true,
		Messages:         compressed,
		Summary:          summary,
		LastCompressedID: toCompress[len(toCompress)-1].ID,
		TokensBefore:     totalTokens,
		TokensAfter:      EstimateMessages(compressed),
		MessagesBefore:   len(history),
		MessagesAfter:    len(compressed),
	}, nil
}

// NewSummaryMessage wraps summary text in the user-role message form used
// both after compression and when resuming from a checkpoint.
func NewSummaryMessage(summary string) *models.Message {
	return &models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Content: "Summary of the conversation so far:\n\n" + summary,
		Metadata: map[string]any{
			SummaryMetadataKey: true,
		},
		CreatedAt: time.Now(),
	}
}

// IsSummaryMessage reports whether m carries a compression summary.
func IsSummaryMessage(m *models.Message) bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[SummaryMetadataKey].(bool)
	return ok && v
}

// splitIndex walks the history from the end accumulating estimated tokens
// until the preserved amount reaches preserveRatio of the total, then
// adjusts backward so the boundary never separates an assistant tool-call
// message from its responses.
func splitIndex(history []*models.Message, preserveRatio float64, totalTokens int) int {
	target := float64(totalTokens) * preserveRatio
	accumulated := 0.0
	split := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		accumulated += float64(EstimateMessage(history[i]))
		split = i
		if accumulated >= target {
			break
		}
	}

	// A split on a tool message would orphan it from its assistant call; a
	// split right after an assistant message with tool calls would orphan
	// the calls from their responses. Walk back across both.
	for split > 0 {
		cur := history[split]
		prev := history[split-1]
		if cur != nil && cur.Role == models.RoleTool {
			split--
			continue
		}
		if prev != nil && len(prev.ToolCalls) > 0 {
			split--
			continue
		}
		break
	}
	return split
}

// FormatTranscript renders messages as role-labeled text for the
// summarization prompt, truncating oversized content with an explicit marker.
func FormatTranscript(messages []*models.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if m == nil {
			continue
		}
		sb.WriteString("[")
		sb.WriteString(string(m.Role))
		sb.WriteString("]: ")

		content := m.Content
		if len(content) > maxFormattedContentChars {
			content = content[:maxFormattedContentChars] + truncationMarker
		}
		sb.WriteString(content)

		for _, tc := range m.ToolCalls {
			sb.WriteString(fmt.Sprintf("\n  [called tool %s]", tc.Name))
		}
		if m.Role == models.RoleTool && m.ToolName != "" {
			sb.WriteString(fmt.Sprintf("\n  [result of %s]", m.ToolName))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// extractSummary pulls the delimited summary out of the model response,
// falling back to the raw text when the delimiters are absent.
func extractSummary(raw string) string {
	start := strings.Index(raw, summaryOpenTag)
	if start < 0 {
		return strings.TrimSpace(raw)
	}
	rest := raw[start+len(summaryOpenTag):]
	end := strings.Index(rest, summaryCloseTag)
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
