package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/UberKitten/SoundBot/internal/audio"
	"github.com/UberKitten/SoundBot/internal/discord"
	"github.com/UberKitten/SoundBot/internal/library"
	"github.com/UberKitten/SoundBot/internal/mcp"
)

var (
	Token     string
	SoundsDir string
	StatePath string
	Prefix    string
)

func init() {
	flag.StringVar(&Token, "token", "", "Discord Bot Token")
	flag.StringVar(&SoundsDir, "sounds", "sounds", "Directory containing sound folders")
	flag.StringVar(&StatePath, "state", "state.json", "Path to the library state file")
	flag.StringVar(&Prefix, "prefix", "!", "Chat command prefix")
	flag.Parse()

	// Load from environment
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}
	if Token == "" {
		Token = os.Getenv("DISCORD_TOKEN")
	}
	if envSounds := os.Getenv("SOUNDS_DIR"); envSounds != "" {
		SoundsDir = envSounds
	}
	if envState := os.Getenv("STATE_PATH"); envState != "" {
		StatePath = envState
	}
	if envPrefix := os.Getenv("COMMAND_PREFIX"); envPrefix != "" {
		Prefix = envPrefix
	}
}

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Set log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(logLevel) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if Token == "" {
		logrus.Fatal("Discord token is required. Use -token flag or DISCORD_TOKEN env var")
	}

	// Set up signal handling with context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	lib, err := library.Load(StatePath, SoundsDir)
	if err != nil {
		logrus.WithError(err).Fatal("Error loading sound library")
	}

	bot, err := discord.New(Token, lib, audio.NewFactory(), Prefix)
	if err != nil {
		logrus.WithError(err).Fatal("Error creating bot")
	}
	logrus.Info("Discord bot created successfully")

	// The MCP control surface runs alongside the chat commands.
	mcpServer := mcp.NewServer(bot.Voice(), lib)
	go func() {
		if err := mcpServer.Start(ctx); err != nil {
			logrus.WithError(err).Error("MCP server error")
		}
	}()
	logrus.Info("MCP server started")

	if err := bot.Start(); err != nil {
		logrus.WithError(err).Fatal("Error connecting to Discord")
	}
	defer func() {
		if err := bot.Stop(); err != nil {
			logrus.WithError(err).Warn("Failed to shut down bot")
		}
	}()
	logrus.Info("Connected to Discord")

	logrus.Info("Bot is running. Press CTRL-C to exit.")
	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
	// Deferred functions will handle cleanup
}
