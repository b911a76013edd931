package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rahul/casedesk/internal/agent"
	"github.com/rahul/casedesk/internal/casework"
	"github.com/rahul/casedesk/internal/gateway"
	"github.com/rahul/casedesk/internal/observability"
	"github.com/rahul/casedesk/internal/store"
	"github.com/rahul/casedesk/pkg/config"
)

// cliChatID tags events and model calls made from the command line.
const cliChatID = "cli"

type deskFunc func(ctx context.Context, svc *casework.Service) (string, error)

// runOneShot builds the case service from config, runs fn once and prints
// its result.
func runOneShot(cmd *cobra.Command, opts *rootOpts, fn deskFunc) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	var logger *observability.Logger
	if opts.Verbose {
		logger = observability.NewWriterLogger(cmd.ErrOrStderr())
	}
	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}
	d, err := newDesk(cfg, llm, logger, nil)
	if err != nil {
		return err
	}

	ctx := observability.WithTaskID(cmd.Context(), uuid.NewString())
	out, err := fn(ctx, d.service)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// requireCase checks the identifier before an operation that needs it.
func requireCase(ctx context.Context, svc *casework.Service, id string) error {
	err := svc.Exists(ctx, id)
	switch {
	case errors.Is(err, casework.ErrInvalidID):
		return fmt.Errorf("invalid case ID %q: expected the first 8 hex characters", id)
	case errors.Is(err, casework.ErrNotFound):
		return fmt.Errorf("case %s does not exist", id)
	}
	return err
}

func newSummaryCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <case_id>",
		Short: "Print a short summary of one case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				if err := requireCase(ctx, svc, args[0]); err != nil {
					return "", err
				}
				return svc.CaseSummary(ctx, cliChatID, args[0])
			})
		},
	}
}

func newReportCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "report <case_id>",
		Short: "Print the full report of one case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				if err := requireCase(ctx, svc, args[0]); err != nil {
					return "", err
				}
				return svc.FullReport(ctx, cliChatID, args[0])
			})
		},
	}
}

func newIssuesCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "issues",
		Short: "Print case counts by farm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				return svc.AllIssues(ctx, cliChatID)
			})
		},
	}
}

func newAskCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>...",
		Short: "Answer a free-text question about the cases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				return svc.DynamicReport(ctx, cliChatID, prompt)
			})
		},
	}
}

func newAttachCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <case_id> <file_name> <file_path>",
		Short: "Record a file attachment against a case",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				return svc.InsertAttachment(ctx, cliChatID, args[0], args[1], args[2])
			})
		},
	}
}

func newCloseCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "close <case_id> <reason>...",
		Short: "Close a case",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := strings.Join(args[1:], " ")
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				if err := requireCase(ctx, svc, args[0]); err != nil {
					return "", err
				}
				return svc.CloseCase(ctx, cliChatID, args[0], reason)
			})
		},
	}
}

func newEscalateCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "escalate <case_id> <reason>...",
		Short: "Escalate a case to the technical team",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := strings.Join(args[1:], " ")
			return runOneShot(cmd, opts, func(ctx context.Context, svc *casework.Service) (string, error) {
				if err := requireCase(ctx, svc, args[0]); err != nil {
					return "", err
				}
				return svc.EscalateCase(ctx, cliChatID, args[0], reason)
			})
		},
	}
}

func newHistoryCmd(opts *rootOpts) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <chat_id>",
		Short: "Print the recorded conversation of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			history, err := store.NewHistoryStore(cfg.Memory.Path)
			if err != nil {
				return err
			}
			defer history.Close()

			msgs, err := history.Transcript(args[0], limit)
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of most recent messages")
	return cmd
}

func printTranscript(w io.Writer, msgs []store.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages recorded.")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %-5s %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.Role, m.Content)
	}
}

func newDigestCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Send the issues digest to every subscribed chat now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			tgCfg, ok := cfg.GetTelegramConfig()
			if !ok {
				return errors.New("telegram gateway is not enabled")
			}
			llm, err := newLLM(cfg)
			if err != nil {
				return err
			}
			d, err := newDesk(cfg, llm, nil, nil)
			if err != nil {
				return err
			}
			history, err := store.NewHistoryStore(cfg.Memory.Path)
			if err != nil {
				return err
			}
			defer history.Close()
			tg, err := gateway.NewTelegramGateway(tgCfg.Token)
			if err != nil {
				return err
			}
			tg.History = history

			digest, err := agent.NewDigestScheduler(cfg.Digest.Schedule, d.service, history, tg)
			if err != nil {
				return err
			}
			n := digest.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Digest sent to %d chat(s).\n", n)
			return nil
		},
	}
}
