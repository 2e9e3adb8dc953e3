package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steelph0enix/unllamabot/internal/bot"
	"github.com/steelph0enix/unllamabot/internal/config"
	"github.com/steelph0enix/unllamabot/internal/discord"
	"github.com/steelph0enix/unllamabot/internal/history"
	"github.com/steelph0enix/unllamabot/internal/httpapi"
	"github.com/steelph0enix/unllamabot/internal/llama"
	"github.com/steelph0enix/unllamabot/internal/observability"
	"github.com/steelph0enix/unllamabot/internal/prompt"
)

func main() {
	configPath := flag.String("config", "unllamabot.toml", "path to the bot configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("no config file at %s, writing defaults", *configPath)
		if err := config.CreateDefault(*configPath, false); err != nil {
			log.Fatalf("write default config: %v", err)
		}
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.DiscordToken == "" {
		log.Fatalf("DISCORD_BOT_TOKEN is not set")
	}

	metrics := observability.NewMetrics(cfg.HTTP.MetricsNamespace)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	store, err := history.NewStore(runCtx, cfg.Database.URL, cfg.Bot.DefaultSystemPrompt)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	llm := llama.NewClient(cfg.Llama.URL, cfg.Llama.RequestTimeout())
	if err := llm.Health(runCtx); err != nil {
		log.Fatalf("llama.cpp server at %s is not healthy: %v", cfg.Llama.URL, err)
	}
	props, err := llm.Props(runCtx)
	if err != nil {
		log.Fatalf("fetch model properties: %v", err)
	}
	log.Printf("llama.cpp serving %s (context %d tokens)", props.ModelName(), props.DefaultGenerationSettings.NCtx)

	prompts := prompt.NewBuilder(llm)
	rest := discord.NewRest(cfg.DiscordToken)
	handler := bot.New(runCtx, cfg, rest, store, llm, prompts, metrics, props)

	presence := discord.CustomStatus("Chatting with " + props.ModelName())
	gateway := discord.NewGateway(cfg.DiscordToken, presence, handler)
	go func() {
		if err := gateway.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("gateway error: %v", err)
		}
	}()

	api := httpapi.New(llm, props.ModelName())
	httpServer := &http.Server{
		Addr:    cfg.HTTP.BindAddr,
		Handler: api.Router(),
	}
	go func() {
		log.Printf("http server listening on %s", cfg.HTTP.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
