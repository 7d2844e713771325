package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/soyeahso/kassa/internal/assistant"
	"github.com/soyeahso/kassa/internal/domain"
	"github.com/spf13/cobra"
)

// cliChannel is the channel id of sessions started from the command line.
const cliChannel = "cli"

// chatService is the part of the assistant the REPL drives.
type chatService interface {
	Turn(ctx context.Context, key domain.SessionKey, text string) (*assistant.TurnResult, error)
	Reset(ctx context.Context, key domain.SessionKey, seed bool) (*domain.Session, error)
	History(key domain.SessionKey) ([]domain.Message, error)
	Model() string
}

func cliKey(session string) domain.SessionKey {
	return domain.SessionKey{ChannelID: cliChannel, ChatID: session}
}

func newChatCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant interactively",
		Long:  "Start an interactive chat. /reset clears the conversation, /model shows the active model and /quit exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.openService()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), svc, cliKey(session))
		},
	}

	cmd.Flags().StringVar(&session, "session", "default", "session to chat in")
	return cmd
}

// runREPL reads one message per line until /quit, EOF or cancellation.
// Turn failures are reported and the loop continues.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, svc chatService, key domain.SessionKey) error {
	history, err := svc.History(key)
	if err != nil {
		return err
	}
	for _, m := range history {
		printMessage(out, m)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/model":
			fmt.Fprintln(out, svc.Model())
			continue
		case "/reset":
			sess, err := svc.Reset(ctx, key, true)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "Chat cleared.")
			for _, m := range sess.Messages {
				printMessage(out, m)
			}
			continue
		}

		res, err := svc.Turn(ctx, key, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, res.Reply)
	}
}

func printMessage(out io.Writer, m domain.Message) {
	switch m.Role {
	case domain.RoleUser:
		fmt.Fprintf(out, "> %s\n", m.Content)
	case domain.RoleAssistant:
		fmt.Fprintln(out, m.Content)
	}
}

func newAskCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask the assistant one question and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			a, err := loadApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.openService()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if session == "" {
				session = uuid.NewString()
			}
			res, err := svc.Turn(ctx, cliKey(session), question)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			log.Debug().
				Str("sessionId", res.SessionID).
				Dur("duration", res.Duration).
				Msg("turn complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "continue a stored session instead of starting a new one")
	return cmd
}
