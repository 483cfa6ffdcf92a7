package context

import (
	"fmt"

	"github.com/haasonsaas/conductor/pkg/models"
)

// SanitizeResult reports what a sanitization pass removed. The details are
// for logging and tests only, never for control flow.
type SanitizeResult struct {
	Removed int
	Details []string
}

// Sanitize enforces the tool-call/response invariants over a message
// sequence and returns a filtered copy that is always valid for a
// tool-calling LLM API:
//
//  1. An assistant message whose tool calls did not all receive a response
//     in the immediately-following run of tool messages is removed together
//     with every tool response that does belong to it. Partial completions
//     are not salvaged; the unit is atomic.
//  2. Tool messages whose ToolCallID matches no surviving assistant tool
//     call are removed as orphans.
//
// The input slice is never mutated.
func Sanitize(messages []*models.Message) ([]*models.Message, SanitizeResult) {
	res := SanitizeResult{}
	if len(messages) == 0 {
		return nil, res
	}

	remove := make([]bool, len(messages))

	// Pass 1: atomic tool-call units.
	for i, msg := range messages {
		if msg == nil {
			remove[i] = true
			res.Removed++
			res.Details = append(res.Details, fmt.Sprintf("index %d: nil message", i))
			continue
		}
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}

		expected := make(map[string]bool, len(msg.ToolCalls))
		for _, call := range msg.ToolCalls {
			expected[call.ID] = false
		}

		// Scan the immediately-following run of tool messages.
		unit := []int{}
		for j := i + 1; j < len(messages); j++ {
			next := messages[j]
			if next == nil || next.Role != models.RoleTool {
				break
			}
			if _, ok := expected[next.ToolCallID]; ok {
				expected[next.ToolCallID] = true
				unit = append(unit, j)
			}
		}

		missing := ""
		for id, answered := range expected {
			if !answered {
				missing = id
				break
			}
		}
		if missing == "" {
			continue
		}

		remove[i] = true
		res.Removed++
		res.Details = append(res.Details,
			fmt.Sprintf("index %d: assistant tool call %q has no response", i, missing))
		for _, j := range unit {
			if !remove[j] {
				remove[j] = true
				res.Removed++
				res.Details = append(res.Details,
					fmt.Sprintf("index %d: tool response removed with incomplete unit", j))
			}
		}
	}

	// Pass 2: orphaned tool responses against the surviving sequence.
	surviving := make(map[string]bool)
	for i, msg := range messages {
		if remove[i] || msg == nil {
			continue
		}
		if msg.Role == models.RoleAssistant {
			for _, call := range msg.ToolCalls {
				surviving[call.ID] = true
			}
		}
		if msg.Role == models.RoleTool && !surviving[msg.ToolCallID] {
			remove[i] = true
			res.Removed++
			res.Details = append(res.Details,
				fmt.Sprintf("index %d: orphan tool response for call %q", i, msg.ToolCallID))
		}
	}

	out := make([]*models.Message, 0, len(messages))
	for i, msg := range messages {
		if !remove[i] {
			out = append(out, msg)
		}
	}
	return out, res
}

// Validate is the read-only counterpart of Sanitize: it reports the
// violations a sanitization pass would repair without mutating anything.
// Used to assert post-conditions in tests.
func Validate(messages []*models.Message) (bool, []string) {
	sanitized, res := Sanitize(messages)
	if res.Removed == 0 && len(sanitized) == len(messages) {
		return true, nil
	}
	return false, res.Details
}
