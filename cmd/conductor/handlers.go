package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/agent"
	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/retry"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/internal/tools/files"
	"github.com/haasonsaas/conductor/internal/tools/search"
	"github.com/haasonsaas/conductor/internal/tools/shell"
	"github.com/haasonsaas/conductor/pkg/models"
)

type runOptions struct {
	configPath string
	sessionID  string
	resume     bool
	yolo       bool
	verbose    bool
	prompt     string
}

func runRun(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	prompt := strings.TrimSpace(opts.prompt)
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return fmt.Errorf("a prompt is required")
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	provider := newLoopbackProvider()
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	mode := agent.ParseApprovalMode(cfg.Agent.ApprovalMode)
	if opts.yolo {
		mode = agent.ApprovalYolo
	}

	session := agent.NewSession(opts.sessionID, provider, registry, store, newProviderSummarizer(provider, cfg.Agent.Model), agent.SessionConfig{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Thresholds:   cfg.Context,
		ApprovalMode: mode,
		Scheduler: agent.SchedulerConfig{
			PerToolTimeout: cfg.Scheduler.PerToolTimeout,
			SerialDelay:    cfg.Scheduler.SerialDelay,
		},
		Loop: agent.LoopConfig{
			Model:          cfg.Agent.Model,
			MaxIterations:  cfg.Agent.MaxIterations,
			MaxTokens:      cfg.Agent.MaxTokens,
			EnableThinking: cfg.Agent.EnableThinking,
			Retry: retry.Config{
				MaxAttempts:  cfg.Retry.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				Factor:       cfg.Retry.Factor,
				Jitter:       cfg.Retry.Jitter,
			},
		},
		Logger: logger.Slog(),
	})
	session.Approver().SetConfirmationCallback(terminalConfirmation(os.Stdin, os.Stderr))
	defer func() {
		if err := session.Dispose(context.Background()); err != nil {
			logger.Warn(ctx, "dispose session", "error", err)
		}
	}()

	unsubscribeMetrics := session.Stream().On(metricsRecorder(metrics, cfg.Agent.Model))
	defer unsubscribeMetrics()
	metrics.SessionStarted()
	defer metrics.SessionEnded()

	if opts.verbose {
		unsubscribe := session.Stream().On(eventPrinter(os.Stderr))
		defer unsubscribe()
	}

	if opts.resume {
		if err := session.Resume(ctx); err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
	}

	result, err := session.SubmitTurn(ctx, prompt)
	if err != nil {
		return err
	}

	if limit := session.Contexts().ModelLimit(); limit > 0 {
		metrics.ObserveContextUsage(float64(session.Contexts().Usage()) / float64(limit))
	}

	fmt.Println(result.Response)
	if opts.verbose {
		fmt.Fprintf(os.Stderr, "session %s: %d iterations, %d tool calls, %d/%d tokens\n",
			session.ID(), result.Iterations, result.Stats.ToolCalls,
			result.Stats.InputTokens, result.Stats.OutputTokens)
	}
	return nil
}

func runSessionsList(ctx context.Context, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := store.List(ctx, sessions.ListOptions{Limit: limit})
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s  %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), title)
	}
	return nil
}

func runSessionsShow(ctx context.Context, configPath, sessionID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	data, err := store.LoadSessionData(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("session %s  %q  %d messages\n", data.Session.ID, data.Session.Title, len(data.Messages))
	if data.Checkpoint != nil {
		fmt.Printf("checkpoint: compressed %s, resumes after %s\n",
			data.Checkpoint.CompressedAt.Format("2006-01-02 15:04"), data.Checkpoint.LoadAfterMessageID)
	}
	for _, m := range data.Messages {
		content := m.Content
		if len(content) > 120 {
			content = content[:120] + "..."
		}
		fmt.Printf("  [%s] %s\n", m.Role, strings.ReplaceAll(content, "\n", " "))
	}
	return nil
}

func openStore(cfg *config.Config) (sessions.Store, func() error, error) {
	if cfg.Storage.Backend == "memory" {
		return sessions.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := sessions.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return store, store.Close, nil
}

func buildRegistry(cfg *config.Config) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry()
	workDir := cfg.Tools.WorkDir
	fileCfg := files.Config{Workspace: workDir, MaxReadBytes: int(cfg.Tools.MaxFileSize)}

	tools := []agent.Tool{
		shell.New(shell.Config{WorkDir: workDir, Timeout: cfg.Tools.ShellTimeout}),
		files.NewReadTool(fileCfg),
		files.NewWriteTool(fileCfg),
		files.NewEditTool(fileCfg),
		search.New(search.Config{Workspace: workDir}),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return registry, nil
}

// terminalConfirmation prompts on the terminal for each confirmation
// request. Answers: y (once), a (always for this command or tool), n.
func terminalConfirmation(in io.Reader, out io.Writer) agent.ConfirmationCallback {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, details *agent.ConfirmDetails) (agent.ConfirmOutcome, error) {
		fmt.Fprintf(out, "\n%s\n", details.Title)
		if details.Command != "" {
			fmt.Fprintf(out, "  $ %s\n", details.Command)
		}
		if details.Diff != "" {
			fmt.Fprintf(out, "%s\n", details.Diff)
		}
		fmt.Fprint(out, "Allow? [y]es / [a]lways / [n]o: ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return agent.OutcomeCancel, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return agent.OutcomeAllow, nil
		case "a", "always":
			return agent.OutcomeAllowAlways, nil
		default:
			return agent.OutcomeCancel, nil
		}
	}
}

// metricsRecorder feeds prometheus collectors from the execution event
// stream. Event delivery is sequenced per session, so the start time of the
// in-flight execution needs no locking.
func metricsRecorder(m *observability.Metrics, model string) agent.StreamHandler {
	var executionStart time.Time
	return func(event models.ExecutionEvent) {
		switch event.Type {
		case models.EventExecutionStart:
			executionStart = event.Time
		case models.EventToolComplete, models.EventToolError, models.EventToolCancelled:
			if event.Tool != nil {
				state := strings.TrimPrefix(string(event.Type), "tool:")
				m.RecordToolExecution(event.Tool.Name, state, float64(event.Tool.DurationMs)/1000)
			}
		case models.EventExecutionComplete:
			if event.Stats != nil {
				m.RecordLLMRequest(model, "success", executionDuration(executionStart, event.Time),
					event.Stats.InputTokens, event.Stats.OutputTokens)
			}
		case models.EventExecutionError:
			m.RecordLLMRequest(model, "error", executionDuration(executionStart, event.Time), 0, 0)
		case models.EventCompressionComplete:
			if event.Compression != nil {
				m.RecordCompression(event.Compression.Compressed,
					event.Compression.TokensBefore, event.Compression.TokensAfter)
			}
		}
	}
}

func executionDuration(start, end time.Time) float64 {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}

func eventPrinter(out io.Writer) agent.StreamHandler {
	return func(event models.ExecutionEvent) {
		switch event.Type {
		case models.EventToolExecuting:
			fmt.Fprintf(out, "→ %s\n", event.Tool.Name)
		case models.EventToolComplete:
			fmt.Fprintf(out, "✓ %s (%dms)\n", event.Tool.Name, event.Tool.DurationMs)
		case models.EventToolError:
			fmt.Fprintf(out, "✗ %s: %s\n", event.Tool.Name, event.Tool.Error)
		case models.EventToolCancelled:
			fmt.Fprintf(out, "⊘ %s cancelled\n", event.Tool.Name)
		}
	}
}

// newProviderSummarizer adapts the provider's completion stream into
// the Summarizer capability used for history compression and tool
// output summarization.
func newProviderSummarizer(provider agent.LLMProvider, model string) agentctx.Summarizer {
	return agentctx.SummarizerFunc(func(ctx context.Context, prompt string) (string, error) {
		chunks, err := provider.Complete(ctx, &agent.CompletionRequest{
			Model:    model,
			Messages: []*models.Message{{Role: models.RoleUser, Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				return "", chunk.Err
			}
			b.WriteString(chunk.Text)
		}
		return b.String(), nil
	})
}
