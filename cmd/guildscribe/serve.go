package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/bot"
	"github.com/xaenox/guildscribe/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard",
	Long: `Serve starts the web dashboard on web.host:web.port: an overview page,
activity charts, 3-D embedding scatter plots and a JSON search API.

Examples:
  guildscribe serve
  WEB_PORT=9000 guildscribe serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram digest bot",
	Long: `Bot answers /digest, /threads, /tags and /search from the stored analyses.
Plain text messages are treated as search queries.

Examples:
  TELEGRAM_TOKEN=... guildscribe bot`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

func runServe(cmd *cobra.Command, args []string) error {
	mustConfig("discord.server_id")
	store := openStore()
	defer store.Close()

	idx, err := rebuildIndex(cmd, store)
	if err != nil {
		logger.Warn("Search disabled", zap.Error(err))
		idx = nil
	} else {
		defer idx.Close()
	}

	srv, err := web.NewServer(store, cfg.Discord.ServerID, idx, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	addr := net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.Web.Port))
	fmt.Fprintf(cmd.OutOrStdout(), "dashboard on http://%s\n", addr)
	return srv.ListenAndServe(cmd.Context(), addr)
}

func runBot(cmd *cobra.Command, args []string) error {
	mustConfig("telegram.token", "discord.server_id")
	store := openStore()
	defer store.Close()

	idx, err := rebuildIndex(cmd, store)
	if err != nil {
		logger.Warn("Search disabled", zap.Error(err))
		idx = nil
	} else {
		defer idx.Close()
	}

	b, err := bot.New(cfg.Telegram.Token, store, cfg.Discord.ServerID, idx, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	return b.Start(cmd.Context())
}
