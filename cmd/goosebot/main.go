// Copyright 2026 The GooseBot Authors
// SPDX-License-Identifier: Apache-2.0

// goosebot bridges Matrix rooms to a Goose agent. Each room maps to
// one agent session; messages addressed to the bot (or arriving within
// the listening window after its last answer) become agent turns, and
// the agent's output streams back as an edited room message.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/ananasregina/GooseBot/agent"
	"github.com/ananasregina/GooseBot/gateway"
	"github.com/ananasregina/GooseBot/lib/config"
	"github.com/ananasregina/GooseBot/lib/version"
	"github.com/ananasregina/GooseBot/session"
	"github.com/ananasregina/GooseBot/tui"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var verbose bool
	var withTUI bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("goosebot", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to goosebot.yaml (default: $GOOSEBOT_CONFIG)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&withTUI, "tui", false, "run the terminal dashboard")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Println("goosebot " + version.Full())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var logger *slog.Logger
	var logHandler *tui.LogHandler
	if withTUI {
		logHandler = tui.NewLogHandler(level)
		logger = slog.New(logHandler)
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	slog.SetDefault(logger)

	accessToken, err := cfg.AccessToken()
	if err != nil {
		return err
	}

	client, err := gateway.NewClient(gateway.ClientConfig{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		AccessToken:   accessToken,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	agents := agent.NewManager(agent.ManagerConfig{
		Binary:           cfg.Goose.Binary,
		WorkingDirectory: cfg.Goose.WorkingDirectory,
		Model:            cfg.Goose.Model,
		TurnTimeout:      cfg.Bot.TurnTimeout.Std(),
		Logger:           logger,
	})
	defer agents.Close()

	gate := session.NewGate(cfg.Bot.ListenWindow.Std(), nil)
	sessions := session.NewManager(session.ManagerConfig{
		Agents:             agents,
		Store:              session.NewStore(cfg.Bot.StateFile, logger),
		Gate:               gate,
		DefaultAgentName:   cfg.Goose.DefaultAgentName,
		MinFlushInterval:   cfg.Bot.MinFlushInterval.Std(),
		FlushSizeThreshold: cfg.Bot.FlushSizeThreshold,
		Logger:             logger,
	})

	bot := gateway.NewBot(gateway.BotConfig{
		Client:        client,
		Sessions:      sessions,
		Gate:          gate,
		CommandPrefix: cfg.Bot.CommandPrefix,
		DisplayName:   cfg.Goose.DefaultAgentName,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("goosebot starting", "version", version.Info(),
		"homeserver", cfg.Matrix.HomeserverURL, "user", cfg.Matrix.UserID)

	if !withTUI {
		return bot.Run(ctx)
	}

	program := tea.NewProgram(tui.NewModel(cfg.Matrix.UserID, sessions), tea.WithAltScreen())
	logHandler.SetProgram(program)

	botDone := make(chan error, 1)
	go func() {
		botDone <- bot.Run(ctx)
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		stop()
		<-botDone
		return fmt.Errorf("dashboard failed: %w", err)
	}
	stop()
	return <-botDone
}
