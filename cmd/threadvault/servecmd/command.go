// Package servecmd runs the archiving service: the Events API endpoint, the
// worker pool, and optionally a Socket Mode connection feeding the same
// intake path.
package servecmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/threadvault/internal/configutil"
	"github.com/quailyquaily/threadvault/internal/dispatch"
	"github.com/quailyquaily/threadvault/internal/event"
	"github.com/quailyquaily/threadvault/internal/healthcheck"
	"github.com/quailyquaily/threadvault/internal/idempotency"
	"github.com/quailyquaily/threadvault/internal/journal"
	"github.com/quailyquaily/threadvault/internal/notion"
	"github.com/quailyquaily/threadvault/internal/pipeline"
	"github.com/quailyquaily/threadvault/internal/slackapi"
	"github.com/quailyquaily/threadvault/internal/summarize"
	"github.com/quailyquaily/threadvault/internal/webhook"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the thread archiving service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper()
			if err != nil {
				return err
			}

			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or THREADVAULT_SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			notionToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "notion-token", "notion.token"))
			if notionToken == "" {
				return fmt.Errorf("missing notion.token (set via --notion-token or THREADVAULT_NOTION_TOKEN)")
			}
			databaseID := strings.TrimSpace(configutil.FlagOrViperString(cmd, "notion-database-id", "notion.database_id"))
			if databaseID == "" {
				return fmt.Errorf("missing notion.database_id (set via --notion-database-id or THREADVAULT_NOTION_DATABASE_ID)")
			}
			openaiKey := strings.TrimSpace(configutil.FlagOrViperString(cmd, "openai-api-key", "openai.api_key"))
			if openaiKey == "" {
				return fmt.Errorf("missing openai.api_key (set via --openai-api-key or THREADVAULT_OPENAI_API_KEY)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slackBaseURL := configutil.FlagOrViperString(cmd, "slack-base-url", "slack.base_url")
			slackClient := slackapi.New(nil, slackBaseURL, botToken, appToken)

			workspaceURL := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-workspace-url", "slack.workspace_url"))
			if workspaceURL == "" {
				auth, err := slackClient.AuthTest(ctx)
				if err != nil {
					return fmt.Errorf("resolve workspace url: %w", err)
				}
				workspaceURL = strings.TrimRight(strings.TrimSpace(auth.URL), "/")
				logger.Info("serve_workspace_resolved", "team", auth.Team, "bot_user_id", auth.UserID, "workspace_url", workspaceURL)
			}
			if workspaceURL == "" {
				return fmt.Errorf("missing slack.workspace_url and auth.test returned none")
			}

			notionBaseURL := configutil.FlagOrViperString(cmd, "notion-base-url", "notion.base_url")
			notionClient := notion.New(nil, notionBaseURL, notionToken)
			store, err := notion.NewDatabase(notionClient, databaseID)
			if err != nil {
				return err
			}

			summarizer, err := summarize.New(summarize.Options{
				APIKey:   openaiKey,
				Model:    configutil.FlagOrViperString(cmd, "openai-model", "openai.model"),
				Endpoint: configutil.FlagOrViperString(cmd, "openai-endpoint", "openai.endpoint"),
			})
			if err != nil {
				return err
			}

			journalDSN := strings.TrimSpace(configutil.FlagOrViperString(cmd, "journal-dsn", "journal.dsn"))
			if journalDSN == "" {
				journalDSN = "threadvault.db"
			}
			intake, err := journal.Open(journal.Options{DSN: journalDSN})
			if err != nil {
				return err
			}
			defer func() { _ = intake.Close() }()

			pipe, err := pipeline.New(pipeline.Options{
				Chat:         slackClient,
				Store:        store,
				Summarizer:   summarizer,
				WorkspaceURL: workspaceURL,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			dispatcher, err := dispatch.New(dispatch.Options{
				Handler:    pipe.Run,
				Workers:    configutil.FlagOrViperInt(cmd, "workers", "queue.workers"),
				QueueSize:  configutil.FlagOrViperInt(cmd, "queue-size", "queue.size"),
				JobTimeout: configutil.FlagOrViperDuration(cmd, "job-timeout", "queue.job_timeout"),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer dispatcher.Close()

			handler, err := webhook.NewHandler(webhook.Options{
				Intake:   intake,
				Enqueuer: dispatcher,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			healthListen := healthcheck.NormalizeListen(configutil.FlagOrViperString(cmd, "health-listen", "health.listen"))
			if healthListen != "" {
				healthServer, err := healthcheck.StartServer(ctx, logger, healthListen, "serve")
				if err != nil {
					logger.Warn("serve_health_server_start_error", "addr", healthListen, "error", err.Error())
				} else {
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
						_ = healthServer.Shutdown(shutdownCtx)
						cancel()
					}()
				}
			}

			listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "listen"))
			if listen == "" {
				listen = ":8080"
			}
			mux := http.NewServeMux()
			mux.Handle("/slack/events", handler)
			srv := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("serve_listening", "addr", listen)
				serveErr <- srv.ListenAndServe()
			}()

			// Socket Mode is an alternative intake for workspaces that cannot
			// expose a public endpoint. Both paths share the journal and the
			// dispatcher, so a delivery arriving on both is still handled once.
			if appToken != "" {
				go runSocketIntake(ctx, logger, slackClient, intake, dispatcher)
			}

			select {
			case <-ctx.Done():
				logger.Info("serve_shutting_down")
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address for the Events API endpoint")
	cmd.Flags().String("health-listen", "", "Optional listen address for the health endpoint")
	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...)")
	cmd.Flags().String("slack-app-token", "", "Slack app token (xapp-...); enables Socket Mode intake")
	cmd.Flags().String("slack-workspace-url", "", "Workspace base URL for permalinks; resolved via auth.test when empty")
	cmd.Flags().String("slack-base-url", "", "Override the Slack API base URL")
	cmd.Flags().String("notion-base-url", "", "Override the Notion API base URL")
	cmd.Flags().String("notion-token", "", "Notion integration token")
	cmd.Flags().String("notion-database-id", "", "Notion database receiving archived threads")
	cmd.Flags().String("openai-api-key", "", "OpenAI API key for summarization")
	cmd.Flags().String("openai-model", "", "Summarization model (default gpt-4o-mini)")
	cmd.Flags().String("openai-endpoint", "", "Override the OpenAI base URL")
	cmd.Flags().String("journal-dsn", "", "Path of the sqlite delivery journal (default threadvault.db)")
	cmd.Flags().Int("workers", 0, "Worker pool size (default 4)")
	cmd.Flags().Int("queue-size", 0, "Pending mention queue size (default 64)")
	cmd.Flags().Duration("job-timeout", 0, "Per-thread processing timeout (default 5m)")
	return cmd
}

// runSocketIntake keeps a Socket Mode connection alive and routes its Events
// API envelopes through the same validate/journal/enqueue path as the HTTP
// endpoint. Connection failures back off and redial until ctx ends.
func runSocketIntake(ctx context.Context, logger *slog.Logger, client *slackapi.Client, intake webhook.Intake, enqueuer webhook.Enqueuer) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := client.ConnectSocket(ctx)
		if err != nil {
			logger.Warn("socket_connect_error", "error", err.Error(), "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		logger.Info("socket_connected")
		err = slackapi.ConsumeSocket(ctx, conn, func(envelope slackapi.SocketEnvelope) error {
			handleSocketEnvelope(ctx, logger, intake, enqueuer, envelope)
			return nil
		})
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("socket_consume_error", "error", err.Error())
		}
	}
}

func handleSocketEnvelope(ctx context.Context, logger *slog.Logger, intake webhook.Intake, enqueuer webhook.Enqueuer, envelope slackapi.SocketEnvelope) {
	if envelope.Type != "events_api" || len(envelope.Payload) == 0 {
		return
	}
	// The envelope was already acknowledged; a redelivered attempt is
	// dropped the same way the HTTP path drops header-marked retries.
	if envelope.RetryAttempt > 0 {
		logger.Info("socket_retry_suppressed", "retry_attempt", envelope.RetryAttempt)
		return
	}
	env, err := event.ParseEnvelope(envelope.Payload)
	if err != nil {
		logger.Warn("socket_decode_error", "error", err.Error())
		return
	}
	res, err := event.Validate(env, nil)
	if err != nil {
		logger.Warn("socket_validate_error", "error", err.Error())
		return
	}
	if res.Kind != event.KindMention {
		return
	}
	m := res.Mention
	if strings.TrimSpace(m.EventID) != "" {
		fresh, err := intake.MarkProcessed(ctx, idempotency.EventKey(m.EventID))
		if err != nil {
			logger.Warn("socket_journal_error", "error", err.Error())
		} else if !fresh {
			logger.Info("socket_duplicate_delivery", "event_id", m.EventID)
			return
		}
	}
	if err := enqueuer.Enqueue(m); err != nil {
		logger.Warn("socket_enqueue_error", "error", err.Error())
		return
	}
	logger.Info("socket_mention_queued", "event_id", m.EventID, "channel_id", m.ChannelID, "thread_key", m.ThreadKey)
}
