package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/ciro-tutor/internal/app/bootstrap"
	"github.com/wolfman30/ciro-tutor/internal/orchestrator"
)

func askCmd(flags *globalFlags) *cobra.Command {
	var sessionID, agent string
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message through the full pipeline; with no argument, read one message per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := flags.load()
			cfg.SessionStore = "memory"
			cfg.SessionLock = "local"

			facade, err := bootstrap.BuildFacade(cmd.Context(), cfg, bootstrap.Deps{}, logger)
			if err != nil {
				return err
			}
			s := &asker{facade: facade, sessionID: sessionID, agent: agent, out: cmd.OutOrStdout()}
			if len(args) > 0 {
				return s.ask(cmd.Context(), strings.Join(args, " "))
			}
			return s.loop(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	cmd.Flags().StringVar(&agent, "agent", "", "send directly to this handler")
	return cmd
}

type asker struct {
	facade    *orchestrator.Facade
	sessionID string
	agent     string
	out       io.Writer
}

func (a *asker) ask(ctx context.Context, message string) error {
	var (
		reply orchestrator.Reply
		err   error
	)
	if a.agent != "" {
		reply, err = a.facade.Direct(ctx, a.sessionID, a.agent, message)
	} else {
		reply, err = a.facade.Handle(ctx, a.sessionID, message)
	}
	if err != nil {
		return err
	}
	a.sessionID = reply.SessionID
	printReply(a.out, reply)
	return nil
}

func (a *asker) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := a.ask(ctx, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printReply(w io.Writer, reply orchestrator.Reply) {
	tag := strings.Join(reply.HandlersUsed, ",")
	switch {
	case reply.Clarification:
		tag = "clarify"
	case reply.Urgent:
		tag += " !urgent"
	}
	fmt.Fprintf(w, "[%s] %s\n", tag, reply.Text)
	for _, c := range reply.Citations {
		fmt.Fprintf(w, "  - %s (%s)\n", c.Title, c.Source)
	}
}
