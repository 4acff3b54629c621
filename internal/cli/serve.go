package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/confer/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the chat gateway",
	Long: `Start the chat gateway in the foreground.
Clients connect to ws://<host>:<port>/chat?session_id=<id>. The process
stops gracefully on SIGINT or SIGTERM, letting in-flight turns finish.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Confer listening on %s\n", cfg.Addr())
	d.Wait()
	return nil
}
