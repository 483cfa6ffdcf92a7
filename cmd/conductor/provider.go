package main

import (
	"context"
	"fmt"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// loopbackProvider is a local stand-in used until a real provider
// adapter is wired by the host. It echoes the latest user message so
// the full pipeline (context assembly, persistence, events, metrics)
// can be exercised without network access.
//
// TODO: load a real provider adapter from the host once the adapter
// registration API lands.
type loopbackProvider struct{}

func newLoopbackProvider() *loopbackProvider {
	return &loopbackProvider{}
}

func (p *loopbackProvider) Name() string { return "loopback" }

func (p *loopbackProvider) ContextWindow(model string) int { return 200000 }

func (p *loopbackProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	var lastUser string
	for _, m := range req.Messages {
		if m.Role == models.RoleUser {
			lastUser = m.Content
		}
	}

	out := make(chan *agent.CompletionChunk, 2)
	go func() {
		defer close(out)
		text := fmt.Sprintf("[loopback] received: %s", lastUser)
		select {
		case out <- &agent.CompletionChunk{Text: text}:
		case <-ctx.Done():
			return
		}
		out <- &agent.CompletionChunk{
			Done:  true,
			Usage: &agent.TokenUsage{InputTokens: len(lastUser) / 4, OutputTokens: len(text) / 4},
		}
	}()
	return out, nil
}
