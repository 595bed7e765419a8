package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/VenkatGGG/lendflow/internal/catalog"
	"github.com/VenkatGGG/lendflow/internal/realtime"
	"github.com/VenkatGGG/lendflow/internal/submission"
)

type globalFlags struct {
	store   string
	verbose bool
}

func newRootCommand() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "lendflow",
		Short:         "Drive submissions, realtime chat and catalog sync against a lendflow backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.store, "store", "", "Store driver: memory, sqlite, redis or postgres (default from LENDFLOW_STORE)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log component activity to stderr")

	root.AddCommand(
		newCatalogCommand(&flags),
		newSubmitCommand(&flags),
		newSessionCommand(&flags),
		newChatCommand(&flags),
	)
	return root
}

// withApp opens the configured store for the duration of fn.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, flags.store, flags.verbose)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newCatalogCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Sync and inspect the offline lender catalog",
	}

	var force bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one catalog sync cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				engine := a.catalogEngine()
				var result catalog.SyncResult
				if force {
					result = engine.ForceSync(ctx)
				} else {
					result = engine.Sync(ctx)
				}
				return writeJSON(cmd.OutOrStdout(), summarize(result))
			})
		},
	}
	syncCmd.Flags().BoolVar(&force, "force", false, "Write the fetched catalog even when unchanged")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored catalog snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				return writeJSON(cmd.OutOrStdout(), a.catalogEngine().Status(ctx))
			})
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync now and on every interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				scheduler := a.catalogScheduler()
				updates, unsubscribe := scheduler.Subscribe(4)
				defer unsubscribe()

				scheduler.Start(ctx)
				defer scheduler.Stop()

				out := cmd.OutOrStdout()
				for {
					select {
					case <-ctx.Done():
						return nil
					case result := <-updates:
						if err := writeJSON(out, summarize(result)); err != nil {
							return err
						}
					}
				}
			})
		},
	}

	cmd.AddCommand(syncCmd, statusCmd, watchCmd)
	return cmd
}

type syncSummary struct {
	Success    bool   `json:"success"`
	FromCache  bool   `json:"fromCache"`
	NeedsRetry bool   `json:"needsRetry"`
	ItemCount  int    `json:"itemCount"`
	Error      string `json:"error,omitempty"`
}

func summarize(result catalog.SyncResult) syncSummary {
	return syncSummary{
		Success:    result.Success,
		FromCache:  result.FromCache,
		NeedsRetry: result.NeedsRetry,
		ItemCount:  len(result.Data),
		Error:      result.Error,
	}
}

type submitFlags struct {
	email  string
	phone  string
	fields []string
}

func newSubmitCommand(flags *globalFlags) *cobra.Command {
	var sf submitFlags
	cmd := &cobra.Command{
		Use:   "submit <kind>",
		Short: "Submit a readiness or contact form once per identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := buildPayload(sf)
			if err != nil {
				return codeError(3, "invalid flags: %s", err)
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				body, err := a.coalescer().Submit(ctx, submission.Kind(args[0]), payload)
				if err != nil {
					var submitErr *submission.SubmitError
					if errors.As(err, &submitErr) {
						return codeError(2, "%s (after %d attempts)", submitErr.Error(), submitErr.Attempts)
					}
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&sf.email, "email", "", "Applicant email")
	f.StringVar(&sf.phone, "phone", "", "Applicant phone")
	f.StringArrayVar(&sf.fields, "field", nil, "Additional payload field as key=value (may be repeated)")
	return cmd
}

func buildPayload(sf submitFlags) (submission.Payload, error) {
	payload := submission.Payload{}
	for _, field := range sf.fields {
		key, value, ok := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q must be key=value", field)
		}
		payload[key] = value
	}
	if sf.email != "" {
		payload["email"] = sf.email
	}
	if sf.phone != "" {
		payload["phone"] = sf.phone
	}
	return payload, nil
}

func newSessionCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear the stored readiness session",
	}

	var rawURL string
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the session id from --url or storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u *url.URL
			if rawURL != "" {
				parsed, err := url.Parse(rawURL)
				if err != nil {
					return codeError(3, "invalid url: %s", err)
				}
				u = parsed
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				sessions := a.sessions()
				id, ok := sessions.Resolve(ctx, u)
				if !ok {
					return codeError(1, "no session found")
				}
				resolved := sessionView{SessionID: id}
				if stored, found := sessions.Load(ctx); found && stored.ID == id {
					resolved.Token = stored.Token
				}
				return writeJSON(cmd.OutOrStdout(), resolved)
			})
		},
	}
	resolveCmd.Flags().StringVar(&rawURL, "url", "", "Page URL carrying sessionId and readinessToken")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the stored session id and token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				a.sessions().Clear(ctx)
				return nil
			})
		},
	}

	cmd.AddCommand(resolveCmd, clearCmd)
	return cmd
}

type sessionView struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"readinessToken,omitempty"`
}

func newChatCommand(flags *globalFlags) *cobra.Command {
	var sessionID, token string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the realtime chat and relay stdin lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				session := submission.Session{ID: sessionID, Token: token}
				if session.ID == "" {
					stored, ok := a.sessions().Load(ctx)
					if !ok {
						return codeError(3, "no session: pass --session-id or submit first")
					}
					session = stored
				}
				return runChat(ctx, a.realtimeManager(), a.cfg.ChatURL, a.cfg.RealtimeEnabled, session, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Readiness session id (default: stored session)")
	cmd.Flags().StringVar(&token, "token", "", "Readiness token")
	return cmd
}

func runChat(ctx context.Context, manager *realtime.Manager, chatURL string, enabled bool, session submission.Session, in io.Reader, out io.Writer) error {
	printer := &linePrinter{out: out}
	manager.SetHandlers(realtime.Handlers{
		OnMessage:     func(msg realtime.Message) { printer.printf("< %s\n", msg.Text) },
		OnHumanActive: func() { printer.printf("* a staff member joined the conversation\n") },
		OnStatus:      func(status realtime.Status) { printer.printf("* %s\n", status) },
	})
	manager.Connect(realtime.Options{URL: chatURL, SessionID: session.ID, Token: session.Token, Enabled: enabled})
	defer manager.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := manager.Send(ctx, line); err != nil {
				printer.printf("! %v\n", err)
			}
		}
	}
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
