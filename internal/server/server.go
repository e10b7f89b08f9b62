// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/sirupsen/logrus"

	"mcp-calorie-log/internal/classify"
	"mcp-calorie-log/internal/estimate"
	"mcp-calorie-log/internal/extract"
	"mcp-calorie-log/internal/ledger"
	"mcp-calorie-log/internal/pipeline"
	"mcp-calorie-log/internal/session"
	"mcp-calorie-log/internal/storage"
)

type Config struct {
	Transport string
	Host      string
	Port      int

	// Store is one of "sqlite", "json" or "memory".
	Store    string
	DBPath   string
	DataFile string
	Timezone string

	// DisplayNames maps a handle or user id to the name used in replies.
	DisplayNames map[string]string

	HighThreshold   int
	MidThreshold    int
	ExtractMode     string
	EstimateTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type CalorieLogServer struct {
	info       protocol.Implementation
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	tools      map[string]toolHandler
	closers    []io.Closer
	config     *Config
	log        logrus.FieldLogger
}

// NewCalorieLogServer wires storage, session state, the estimation client
// and the meal pipeline from cfg.
func NewCalorieLogServer(cfg *Config, log logrus.FieldLogger) (*CalorieLogServer, error) {
	if cfg.Transport != "" && cfg.Transport != "http" {
		return nil, fmt.Errorf("unsupported transport %q: only http is available", cfg.Transport)
	}

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	closers = append(closers, closer)

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			closeAll()
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	var sessions session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client, err := session.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, client)
		sessions = session.NewRedisStore(client)
		log.WithField("addr", cfg.RedisAddr).Info("session state in Redis")
	}

	est, err := estimate.NewClient()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize estimator: %w", err)
	}

	l := ledger.New(store, ledger.WithLocation(loc), ledger.WithLogger(log))
	p := pipeline.New(est, l, sessions, classify.New(cfg.HighThreshold, cfg.MidThreshold),
		pipeline.WithMode(extract.ParseMode(cfg.ExtractMode)),
		pipeline.WithEstimateTimeout(cfg.EstimateTimeout),
		pipeline.WithDisplayNames(cfg.DisplayNames),
		pipeline.WithLogger(log),
	)

	return New(cfg, p, log, closers...), nil
}

// ParseDisplayNames reads "handle=Name,other=Other Name" pairs.
func ParseDisplayNames(s string) (map[string]string, error) {
	names := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, name, ok := strings.Cut(pair, "=")
		key, name = strings.TrimSpace(key), strings.TrimSpace(name)
		if !ok || key == "" || name == "" {
			return nil, fmt.Errorf("invalid display name %q, want handle=Name", pair)
		}
		names[key] = name
	}
	return names, nil
}

func openStore(cfg *Config) (ledger.Store, io.Closer, error) {
	switch cfg.Store {
	case "", "sqlite":
		s, err := storage.NewSQLiteStorage(cfg.DBPath)
		return s, s, err
	case "json":
		s, err := storage.NewJSONFileStorage(cfg.DataFile)
		return s, s, err
	case "memory":
		s := storage.NewMemoryStorage()
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// New builds the transport around an already wired pipeline.
func New(cfg *Config, p *pipeline.Pipeline, log logrus.FieldLogger, closers ...io.Closer) *CalorieLogServer {
	s := &CalorieLogServer{
		info: protocol.Implementation{
			Name:    "calorie-log",
			Version: "1.0.0",
		},
		pipeline: p,
		closers:  closers,
		config:   cfg,
		log:      log,
	}

	s.registerTools()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *CalorieLogServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *CalorieLogServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		var invalid *invalidParamsError
		if errors.As(err, &invalid) {
			http.Error(w, invalid.Error(), http.StatusBadRequest)
			return
		}
		s.log.WithField("tool", request.Name).WithError(err).Error("tool call failed")
		http.Error(w, pipeline.ReplyFailure, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.log.WithError(err).Warn("failed to encode response")
	}
}

func (s *CalorieLogServer) Start(ctx context.Context) error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting calorie log server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *CalorieLogServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *CalorieLogServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
