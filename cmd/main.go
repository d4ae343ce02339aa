package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"talkinghead/internal/app"
	"talkinghead/internal/cli/scheme/colours"
	"talkinghead/internal/config"
)

func main() {
	config.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n" + colours.Warning.Sprint("👋 Shutting down..."))
		cancel()
		// a second signal skips the graceful path
		<-sigChan
		os.Exit(1)
	}()

	var configFile string
	commands := &app.Commands{
		Ctx: ctx,
		LoadConfig: func() (*config.Config, error) {
			if err := config.Init(configFile); err != nil {
				return nil, err
			}
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			config.ConfigureLogging(cfg.Log)
			return cfg, nil
		},
	}

	rootCmd := app.NewRootCommand(commands)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default $HOME/.talkinghead/talkinghead.yaml)")

	if err := rootCmd.Execute(); err != nil {
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}
