// cmd/calorie-log/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mcp-calorie-log/internal/server"
)

var (
	transport       = flag.String("transport", "http", "Transport mode: http")
	port            = flag.Int("port", envInt("PORT", 8011), "Port for HTTP transport")
	host            = flag.String("host", "0.0.0.0", "Host address")
	address         = flag.String("address", "", "Address (alias for host)")
	store           = flag.String("store", envString("STORE", "sqlite"), "Ledger backend: sqlite, json or memory")
	dbPath          = flag.String("db-path", envString("DB_PATH", "/data/calorie-log.db"), "Database path")
	dataFile        = flag.String("data-file", envString("DATA_FILE", "/data/calorie-log.json"), "JSON ledger path")
	timezone        = flag.String("timezone", envString("TZ", ""), "Time zone for day boundaries (defaults to local)")
	highThreshold   = flag.Int("high-threshold", envInt("HIGH_THRESHOLD", 800), "Calories above which a meal is special")
	midThreshold    = flag.Int("mid-threshold", envInt("MID_THRESHOLD", 600), "Calories from which a sweet meal is special")
	extractMode     = flag.String("extract-mode", envString("EXTRACT_MODE", "text"), "Estimator answer format: text or json")
	estimateTimeout = flag.Duration("estimate-timeout", 60*time.Second, "Deadline for one estimation call")
	userNames       = flag.String("user-names", envString("USER_NAMES", ""), "Reply names as handle=Name pairs, comma separated")
	redisAddr       = flag.String("redis-addr", envString("REDIS_ADDR", ""), "Redis address or URL for session state (in-memory when empty)")
	redisDB         = flag.Int("redis-db", envInt("REDIS_DB", 0), "Redis database number")
	logLevel        = flag.String("log-level", envString("LOG_LEVEL", "info"), "Log level")
	version         = flag.Bool("version", false, "Show version")
)

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.WithField("level", *logLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	flag.Parse()

	if *version {
		fmt.Println("mcp-calorie-log version 1.0.0")
		os.Exit(0)
	}

	log := newLogger()

	// Use address if provided, otherwise use host
	hostAddr := *host
	if *address != "" {
		hostAddr = *address
	}

	displayNames, err := server.ParseDisplayNames(*userNames)
	if err != nil {
		log.WithError(err).Fatal("invalid -user-names")
	}

	config := &server.Config{
		Transport:       *transport,
		Host:            hostAddr,
		Port:            *port,
		Store:           *store,
		DBPath:          *dbPath,
		DataFile:        *dataFile,
		Timezone:        *timezone,
		DisplayNames:    displayNames,
		HighThreshold:   *highThreshold,
		MidThreshold:    *midThreshold,
		ExtractMode:     *extractMode,
		EstimateTimeout: *estimateTimeout,
		RedisAddr:       *redisAddr,
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         *redisDB,
	}

	srv, err := server.NewCalorieLogServer(config, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("received shutdown signal")
	case err := <-errCh:
		log.WithError(err).Error("server error")
	}

	log.Info("shutting down")
	cancel()
	if err := srv.Stop(); err != nil {
		log.WithError(err).Error("error during shutdown")
	}
}
