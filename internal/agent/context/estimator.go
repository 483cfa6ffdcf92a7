// Package context provides context management for agent conversations.
//
// This package handles:
//   - Token estimation: a deterministic heuristic for budget decisions
//   - Transcript sanitization: structural repair of tool-call/response units
//   - History compression: summarizing old history under a preserve ratio
//   - Context assembly: the fixed-order message list handed to the LLM
package context

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Per-message overhead in tokens charged for role framing.
const messageOverheadTokens = 4

// EstimateString estimates the token cost of a string. CJK characters are
// charged 1 token per 1.5 characters and all other characters 1 token per 4,
// each rounded up. This is a heuristic, not a tokenizer match: it only has to
// be deterministic and monotonic so threshold comparisons are stable.
func EstimateString(s string) int {
	if s == "" {
		return 0
	}
	cjk := 0
	other := 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return ceilDiv(cjk*2, 3) + ceilDiv(other, 4)
}

// EstimateValue estimates the token cost of arbitrary content by serializing
// non-string values to JSON first.
func EstimateValue(v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return EstimateString(val)
	case []byte:
		return EstimateString(string(val))
	case json.RawMessage:
		return EstimateString(string(val))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return EstimateString(fmt.Sprint(v))
		}
		return EstimateString(string(data))
	}
}

// EstimateMessage estimates the token cost of a single message, including
// role-framing overhead and any tool call metadata it carries.
func EstimateMessage(m *models.Message) int {
	if m == nil {
		return 0
	}
	total := messageOverheadTokens + EstimateString(m.Content)
	if len(m.ToolCalls) > 0 {
		total += EstimateValue(m.ToolCalls)
	}
	if m.ToolCallID != "" {
		total += EstimateString(m.ToolCallID)
	}
	if m.ToolName != "" {
		total += EstimateString(m.ToolName)
	}
	return total
}

// EstimateMessages sums EstimateMessage over the list.
func EstimateMessages(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return total
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// isCJK reports whether r falls in the CJK-adjacent blocks that tokenize
// much denser than Latin text: unified ideographs (+ extension A and
// compatibility), kana, hangul, CJK punctuation, and fullwidth forms.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // Extension A
		return true
	case r >= 0xF900 && r <= 0xFAFF: // Compatibility Ideographs
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul Syllables
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // Fullwidth forms
		return true
	}
	return false
}
