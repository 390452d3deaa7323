package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scalytics/parley/internal/agent"
	"github.com/scalytics/parley/internal/assistant"
	"github.com/scalytics/parley/internal/audit"
	"github.com/scalytics/parley/internal/bus"
	"github.com/scalytics/parley/internal/channels"
	"github.com/scalytics/parley/internal/commands"
	"github.com/scalytics/parley/internal/debugapi"
	"github.com/scalytics/parley/internal/feedback"
	"github.com/scalytics/parley/internal/metrics"
	"github.com/scalytics/parley/internal/normalize"
	"github.com/scalytics/parley/internal/orchestrator"
	"github.com/scalytics/parley/internal/provider"
	"github.com/scalytics/parley/internal/scheduler"
	"github.com/scalytics/parley/internal/search"
	"github.com/scalytics/parley/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Slack and start answering",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "Parley Serve")

	// 1. Config
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(out, color.RedString("✗ Configuration invalid"))
		return err
	}
	logger := setupLogger(cfg.LogLevel, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Shared plumbing
	m := metrics.New()
	msgBus := bus.NewMessageBus()
	store := session.NewStore(cfg.Store.Capacity, "", logger)

	// 3. Collaborators
	slackClient := channels.NewSlackClient(cfg.Slack, msgBus, logger)
	llm := provider.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.Models.Reply.Model, cfg.OpenAI.Timeout)
	prompts, err := assistant.LoadPrompts(cfg.Prompts.Path)
	if err != nil {
		return err
	}
	asst := assistant.NewService(llm, cfg.Models, prompts, cfg.Prompts.PersonaName, logger)
	searchers := search.NewRegistry(cfg.Search, asst, logger)
	norm := normalize.New(slackClient, slackClient, asst, searchers, m,
		normalize.Options{MaxContentLength: cfg.Store.MaxContentLength}, logger)

	publisher := audit.New(cfg.Audit, logger)
	defer publisher.Close()

	orch := orchestrator.New(store, asst, slackClient, norm, searchers, cfg.Orchestrator,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithAudit(publisher),
	)

	opts := agent.Options{
		Bus:           msgBus,
		Client:        slackClient,
		Store:         store,
		Normalizer:    norm,
		Orchestrator:  orch,
		Commands:      commands.NewDispatcher(store, slackClient, logger),
		Metrics:       m,
		MaxConcurrent: cfg.Agent.MaxConcurrent,
		Backfill: agent.BackfillOptions{
			Limit:  cfg.Slack.BackfillLimit,
			Window: cfg.Store.HistoryWindow(),
		},
		Logger: logger,
	}
	if cfg.Feedback.Enabled {
		fb, err := feedback.Open(cfg.Feedback.DBPath)
		if err != nil {
			return err
		}
		defer fb.Close()
		opts.Feedback = feedback.NewCollector(fb, store, cfg.Feedback.HistoryLength, cfg.Feedback.Emojis, m, logger)
		fmt.Fprintf(out, "Feedback: ✓ %s\n", cfg.Feedback.DBPath)
	}
	supervisor := agent.New(opts)

	sched := scheduler.New(0, logger)
	if cfg.Store.RetentionCron != "" && cfg.Store.HistoryWindow() > 0 {
		job := scheduler.RetentionJob(cfg.Store.RetentionCron, store, cfg.Store.HistoryWindow(), m, logger)
		if err := sched.Register(job); err != nil {
			return err
		}
	}

	// 4. Connect
	if err := slackClient.Start(ctx); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer slackClient.Stop()
	self := slackClient.Self()
	fmt.Fprintf(out, "Slack:    ✓ connected as %s (%s)\n", self.Name, self.ID)
	if cfg.Audit.Enabled() {
		fmt.Fprintf(out, "Audit:    ✓ %s\n", cfg.Audit.Topic)
	}

	// 5. Run until signalled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.Debug.Enabled {
		api := debugapi.New(store, m, logger)
		g.Go(func() error { return api.ListenAndServe(gctx, cfg.Debug.Addr) })
		fmt.Fprintf(out, "Debug:    ✓ http://%s\n", cfg.Debug.Addr)
	}
	logger.Info("Parley running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "Parley stopped")
	return nil
}
