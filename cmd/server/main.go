package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/closetswap/swapchat/internal/api"
	"github.com/closetswap/swapchat/internal/chat"
	"github.com/closetswap/swapchat/internal/config"
	"github.com/closetswap/swapchat/internal/database"
	"github.com/closetswap/swapchat/internal/server"
	"github.com/closetswap/swapchat/internal/stats"
	"github.com/closetswap/swapchat/internal/trade"
	"github.com/joho/godotenv"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	defaultDSN        = "host=localhost user=postgres password=postgres dbname=swapchat sslmode=disable"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			*s = append(*s, origin)
		}
	}
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	migrate        bool
	issueToken     int
)

func main() {
	logger := log.New(os.Stderr, "[swapchat] ", log.LstdFlags)

	// a missing .env file is fine, the environment and flags still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Fatal("load .env:", err)
	}

	flag.StringVar(&addr, "addr", config.EnvOrDefault("SWAPCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.EnvOrDefault("DATABASE_URL", defaultDSN), "database connection string")
	flag.StringVar(&signingKey, "signing-key", config.EnvOrDefault("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.BoolVar(&migrate, "migrate", false, "apply database migrations before starting")
	flag.IntVar(&issueToken, "issue-token", 0, "print a session token for the given user id and exit")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins.Set(config.EnvOrDefault("ALLOWED_ORIGINS", ""))
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	if issueToken > 0 {
		token, err := api.IssueToken(issueToken, 24*time.Hour, cfg.SigningKey)
		if err != nil {
			logger.Fatal("issue token:", err)
		}
		fmt.Println(token)
		return
	}

	if migrate {
		if err := database.Migrate(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatal("migrate:", err)
		}
	}

	dbConn, err := database.NewPgSwapChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatSvc := chat.NewService(logger, dbConn)
	hub := server.NewHub(logger, chatSvc, statsUpdater)
	tradeSvc := trade.NewService(logger, dbConn, statsUpdater, hub)

	srv := api.NewSwapChatApp(mux, logger, hub, dbConn, chatSvc, tradeSvc, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ServerAddr)
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("closing websocket connections...")
	if err := hub.Shutdown(shutDownCtx); err != nil {
		logger.Println("hub shutdown:", err)
	}

	logger.Println("shutdown complete")
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\nEnvironment (also read from .env): SWAPCHAT_ADDR, DATABASE_URL, SIGNING_KEY, ALLOWED_ORIGINS")
	}
}
