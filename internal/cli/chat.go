package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/confer/internal/daemon"
	"github.com/harun/confer/pkg/session"
)

const terminalClientID = "terminal"

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Chat with the assistant in the terminal.
Each line is one question. Answers stream as they arrive. Use --session to
resume a stored conversation; type exit or quit to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to resume (default: a new random id)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer d.Close()

	sessionID := chatSession
	if sessionID == "" {
		if sessionID, err = gonanoid.New(); err != nil {
			return fmt.Errorf("failed to generate session id: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return chatLoop(ctx, chatOptions{
		SessionID: sessionID,
		Backend:   d,
		TTL:       cfg.SessionTTL(),
		In:        cmd.InOrStdin(),
		Out:       cmd.OutOrStdout(),
		Logger:    log.Zerolog(),
	})
}

// chatBackend is what the terminal chat needs from the daemon
type chatBackend interface {
	Store() session.Store
	Limiter() session.Limiter
	NewAgent(logger zerolog.Logger) (session.Chatter, error)
}

type chatOptions struct {
	SessionID string
	Backend   chatBackend
	TTL       time.Duration
	In        io.Reader
	Out       io.Writer
	Logger    zerolog.Logger
}

func chatLoop(ctx context.Context, opts chatOptions) error {
	chatter, err := opts.Backend.NewAgent(opts.Logger)
	if err != nil {
		return err
	}

	svc, err := session.NewService(session.ServiceOptions{
		SessionID: opts.SessionID,
		ClientID:  terminalClientID,
		Agent:     chatter,
		Store:     opts.Backend.Store(),
		TTL:       opts.TTL,
		Limiter:   opts.Backend.Limiter(),
		Logger:    &opts.Logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Open(ctx, &terminalTransport{out: opts.Out}); err != nil {
		return err
	}

	if n := len(svc.History()); n > 0 {
		fmt.Fprintf(opts.Out, "Resumed session %s (%d messages)\n", opts.SessionID, n)
	} else {
		fmt.Fprintf(opts.Out, "Session %s\n", opts.SessionID)
	}

	scanner := bufio.NewScanner(opts.In)
	for {
		fmt.Fprint(opts.Out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(opts.Out)
			return scanner.Err()
		}

		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return nil
		}

		if err := svc.Handle(ctx, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// terminalTransport prints frames; the end-of-turn marker becomes a newline
type terminalTransport struct {
	out io.Writer
}

func (t *terminalTransport) SendText(_ context.Context, text string) error {
	if text == session.EndOfTurn {
		text = "\n"
	}
	_, err := io.WriteString(t.out, text)
	return err
}

func (t *terminalTransport) Close() error {
	return nil
}

var _ chatBackend = (*daemon.Daemon)(nil)
