package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/realpolitik/push-relay/pkg/config"
	"github.com/realpolitik/push-relay/pkg/dispatch"
	"github.com/realpolitik/push-relay/pkg/httpapi"
	"github.com/realpolitik/push-relay/pkg/inbox"
	"github.com/realpolitik/push-relay/pkg/lifecycle"
	"github.com/realpolitik/push-relay/pkg/registry"
	"github.com/realpolitik/push-relay/pkg/report"
	"github.com/realpolitik/push-relay/pkg/sweep"
	"github.com/realpolitik/push-relay/pkg/webpush"
)

var (
	cfgPath string
	verbose bool
)

// ServerCmd starts the relay.
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the push relay server",
	Long:  "Start the HTTP server that accepts dispatch triggers and manages push subscriptions",
	Run:   runServer,
}

func init() {
	ServerCmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Configuration file path")
	ServerCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	if err := viper.BindPFlag("config", ServerCmd.Flags().Lookup("config")); err != nil {
		log.Printf("Failed to bind config flag: %v", err)
	}
	if err := viper.BindPFlag("verbose", ServerCmd.Flags().Lookup("verbose")); err != nil {
		log.Printf("Failed to bind verbose flag: %v", err)
	}
}

func runServer(cmd *cobra.Command, args []string) {
	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Local development convenience; absent .env is fine.
	if err := godotenv.Load(); err == nil {
		log.Printf("[SERVER] loaded environment from .env")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[SERVER] failed to load configuration: %v", err)
	}

	ctx := context.Background()

	reg, err := registry.New(ctx, cfg.Registry)
	if err != nil {
		log.Fatalf("[SERVER] failed to initialize registry (%s): %v", cfg.Registry.Type, err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Printf("[SERVER] failed to close registry: %v", err)
		}
	}()
	log.Printf("[SERVER] registry backend: %s", cfg.Registry.Type)

	sender, err := webpush.NewGatewaySender(cfg.VAPID)
	if err != nil {
		log.Fatalf("[SERVER] %v", err)
	}

	var dedup dispatch.Deduper
	if cfg.Redis.Addr != "" {
		dedup, err = dispatch.NewRedisDeduper(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("[SERVER] failed to initialize redis dedup store: %v", err)
		}
		log.Printf("[SERVER] dedup store: redis (%s)", cfg.Redis.Addr)
	} else {
		dedup = dispatch.NewMemoryDeduper()
		log.Printf("[SERVER] dedup store: memory")
	}
	defer func() {
		if err := dedup.Close(); err != nil {
			log.Printf("[SERVER] failed to close dedup store: %v", err)
		}
	}()

	dispatcher := dispatch.NewDispatcher(reg, sender, dedup, cfg.Workers)
	lc := lifecycle.NewService(reg, cfg.MaxRules)

	inboxStore, err := inbox.NewFileStore(cfg.InboxDir)
	if err != nil {
		log.Fatalf("[SERVER] failed to initialize inbox store: %v", err)
	}

	var reporter report.Notifier
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		reporter, err = report.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel)
		if err != nil {
			log.Printf("[SERVER] slack reporting disabled: %v", err)
		} else {
			log.Printf("[SERVER] dispatch summaries will be posted to slack channel %s", cfg.Slack.Channel)
		}
	}

	if cfg.Sweep.Enabled {
		sweeper, err := sweep.New(lc, cfg.Sweep.Schedule, time.Duration(cfg.Sweep.HorizonDays)*24*time.Hour)
		if err != nil {
			log.Fatalf("[SERVER] failed to initialize sweep: %v", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := httpapi.NewServer(cfg, dispatcher, lc, inboxStore, reporter)

	go func() {
		log.Printf("[SERVER] listening on :%d", cfg.Port)
		if err := server.Start(); err != nil {
			log.Printf("[SERVER] server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("[SERVER] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[SERVER] shutdown error: %v", err)
	}
}
