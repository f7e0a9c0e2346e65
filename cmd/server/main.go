package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-teamchat/internal/api"
	"github.com/npezzotti/go-teamchat/internal/config"
	"github.com/npezzotti/go-teamchat/internal/server"
	"github.com/npezzotti/go-teamchat/internal/stats"
	"github.com/npezzotti/go-teamchat/internal/store"
)

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func main() {
	logger := log.New(os.Stderr, "teamchat: ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Fatalln("load env file:", err)
	}

	var (
		addr       = flag.String("addr", envOr("TEAMCHAT_ADDR", "localhost:8000"), "server address")
		dataDir    = flag.String("data-dir", envOr("TEAMCHAT_DATA_DIR", "./data"), "database directory")
		signingKey = flag.String("signing-key", os.Getenv("TEAMCHAT_SIGNING_KEY"), "base64-encoded jwt signing key")
		origins    = flag.String("allowed-origins", envOr("TEAMCHAT_ALLOWED_ORIGINS", "http://localhost:8000"), "comma-separated list of allowed origins")
	)
	flag.Parse()

	cfg, err := config.NewConfig(*addr, *dataDir, *signingKey, strings.Split(*origins, ","))
	if err != nil {
		logger.Fatalln("config:", err)
	}

	db, err := store.NewPebbleChatRepository(cfg.DataDir)
	if err != nil {
		logger.Fatalln("open database:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("close database:", err)
		}
	}()

	if err := db.Ping(); err != nil {
		logger.Fatalln("database ping:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	go statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, db, statsUpdater)
	if err != nil {
		logger.Fatalln("create chat server:", err)
	}

	app := api.NewChatApp(mux, logger, chatServer, db, statsUpdater, cfg)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("starting server on %s\n", cfg.ServerAddr)
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	logger.Println("stopping server")

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("shutdown:", err)
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
