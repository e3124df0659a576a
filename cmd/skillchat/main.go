package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/nidhogg/skillchat/migrations"
	"github.com/nidhogg/skillchat/internal/agent"
	"github.com/nidhogg/skillchat/internal/api"
	"github.com/nidhogg/skillchat/internal/command"
	"github.com/nidhogg/skillchat/internal/config"
	"github.com/nidhogg/skillchat/internal/embedding"
	"github.com/nidhogg/skillchat/internal/gateway"
	"github.com/nidhogg/skillchat/internal/mcp"
	"github.com/nidhogg/skillchat/internal/memory"
	"github.com/nidhogg/skillchat/internal/provider"
	msgrouter "github.com/nidhogg/skillchat/internal/router"
	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/skill/builtin"
	"github.com/nidhogg/skillchat/internal/store"
	"github.com/nidhogg/skillchat/internal/store/sqlite"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"github.com/nidhogg/skillchat/internal/vectorstore"
	"github.com/nidhogg/skillchat/internal/window"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// backend is what every database driver provides.
type backend interface {
	agent.HistoryStore
	store.NoteStore
	store.TaskStore
	toolstate.Snapshotter
}

// snapshotTTL bounds how long an idle conversation's tool state survives in Redis.
const snapshotTTL = 7 * 24 * time.Hour

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/skillchat.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting skillchat...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model providers
	models := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		if pc.Type != "ollama" && pc.Type != "" && pc.APIKey == "" {
			logger.Info("skipping provider without api key", zap.String("id", pc.ID))
			continue
		}
		p, err := provider.New(pc.Provider(), logger)
		if err != nil {
			logger.Warn("provider unavailable", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		models.Register(p, pc.Models...)
	}
	models.SetFallbacks(cfg.Model.Fallbacks)

	// Storage
	db, closeDB, err := openBackend(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("open database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closeDB()

	var rdb *redis.Client
	if cfg.Database.Redis.URL != "" {
		rdb, err = store.ConnectRedis(ctx, cfg.Database.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable, tool state stays in the database", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var snapshots toolstate.Snapshotter = db
	if rdb != nil {
		snapshots = toolstate.NewRedisSnapshotter(rdb, snapshotTTL, logger)
	}

	facts, closeFacts := openMemory(ctx, cfg, rdb, logger)
	defer closeFacts()

	// Skills
	registry := skill.NewRegistry(logger)
	deps := builtin.Deps{
		Notes:      db,
		Tasks:      db,
		Memory:     facts,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}
	if tok := cfg.Integrations.Slack.BotToken; tok != "" {
		deps.Slack = slack.New(tok)
	}
	var discordSession *discordgo.Session
	if tok := cfg.Integrations.Discord.BotToken; tok != "" {
		dg, err := discordgo.New("Bot " + tok)
		if err != nil {
			logger.Warn("Discord client unavailable", zap.Error(err))
		} else {
			deps.Discord = dg
			discordSession = dg
		}
	}
	builtin.Register(registry, deps)
	for _, srv := range cfg.Integrations.MCP {
		c := mcp.NewClient(srv.Name, srv.URL, logger)
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := c.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Warn("MCP server unavailable", zap.String("server", srv.Name), zap.Error(err))
			continue
		}
		defer c.Close()
		ids := mcp.RegisterSkills(registry, c)
		logger.Info("MCP skills registered", zap.String("server", srv.Name), zap.Int("count", len(ids)))
	}
	applySkillConfig(registry, cfg.Skills, logger)

	if path := cfg.Skills.SettingsFile; path != "" {
		watcher := skill.NewSettingsWatcher(path, registry, logger)
		if err := watcher.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("skill settings not applied", zap.String("path", path), zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("skill settings watcher stopped", zap.Error(err))
			}
		}()
	}
	discovery := skill.NewDiscovery(registry)

	// Conversations
	sessions := toolstate.NewStore(registry, discovery, snapshots, toolstate.StoreConfig{
		TTL:              cfg.Sessions.TTL(),
		MaxConversations: cfg.Sessions.MaxConversations,
		MaxHistory:       cfg.Sessions.MaxHistory,
	}, logger)
	sessions.StartSweeper(ctx, cfg.Sessions.SweepInterval())

	opts := []agent.Option{
		agent.WithHistory(db, 50),
		agent.WithDefaultModel(cfg.Model.Default),
		agent.WithMaxRounds(cfg.Model.MaxRounds),
	}
	if n := cfg.Model.ContextTokens; n > 0 {
		opts = append(opts, agent.WithWindow(window.NewFitter(window.Config{
			MaxTokens: n,
			Model:     cfg.Model.Default,
		}, models, logger)))
	}
	if cfg.Server.ProfileDir != "" {
		if prompt := agent.LoadProfile(cfg.Server.ProfileDir); prompt != "" {
			opts = append(opts, agent.WithSystemPrompt(prompt))
		}
	}
	engine := agent.NewEngine(models, sessions, logger, opts...)

	status := func(ctx context.Context) provider.Status {
		p, _, err := models.Resolve(cfg.Model.Default)
		if err != nil {
			return provider.Status{Models: []string{}, Error: err.Error()}
		}
		return provider.Probe(ctx, p, 3*time.Second)
	}
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, registry, discovery)
	handler := api.NewHandler(engine, registry, discovery, commands, status, logger)

	// Chat platforms
	gw := gateway.New(logger)
	if sc := cfg.Integrations.Slack; sc.Listen {
		gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, logger))
	}
	if cfg.Integrations.Discord.Listen && discordSession != nil {
		gw.Register(gateway.NewDiscordAdapter(discordSession, logger))
	}
	if len(gw.Adapters()) > 0 {
		gw.SetHandler(msgrouter.New(engine, gw, commands, logger).Handler(ctx))
		if err := gw.ConnectAll(ctx); err != nil {
			logger.Warn("some chat platforms are unavailable", zap.Error(err))
		}
		defer gw.Close()
	}
	handler.SetGateways(gw.Statuses)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("skillchat listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down skillchat...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func newLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

// openBackend opens the configured database driver.
func openBackend(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (backend, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := store.New(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		schema := fs.FS(migrations.FS)
		if cfg.Migrations != "" {
			schema = os.DirFS(cfg.Migrations)
		}
		if err := s.Migrate(ctx, schema); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		logger.Info("using in-memory storage; conversations are lost on restart")
		return store.NewMemory(), func() {}, nil
	}
}

// openMemory builds the long-term fact store: Redis when available, with a
// Qdrant semantic index on top when configured.
func openMemory(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (memory.Store, func()) {
	var base memory.Store = memory.NewInMemory()
	if rdb != nil {
		base = memory.NewRedisStore(rdb, memory.DefaultRedisKey, logger)
	}
	if cfg.Database.Qdrant.Host == "" {
		return base, func() {}
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		logger.Warn("embedding provider unavailable, memory recall is keyword only", zap.Error(err))
		return base, func() {}
	}
	qc, err := vectorstore.NewClient(cfg.Database.Qdrant)
	if err != nil {
		logger.Warn("Qdrant unavailable, memory recall is keyword only", zap.Error(err))
		return base, func() {}
	}
	semantic, err := memory.NewSemanticStore(ctx, base, qc, embedder, "skillchat_memory", logger)
	if err != nil {
		qc.Close()
		logger.Warn("semantic memory disabled", zap.Error(err))
		return base, func() {}
	}
	return semantic, func() { qc.Close() }
}

// applySkillConfig applies enablement overrides from the main config file.
func applySkillConfig(r *skill.Registry, cfg config.SkillsConfig, logger *zap.Logger) {
	if cfg.NetworkEnabled {
		for _, d := range r.GetAllSkills() {
			if d.RequiresNetwork {
				r.SetEnabled(d.ID, true)
			}
		}
	}
	for _, id := range cfg.Enabled {
		if !r.SetEnabled(id, true) {
			logger.Warn("unknown skill in skills.enabled", zap.String("id", id))
		}
	}
	for _, id := range cfg.Disabled {
		if !r.SetEnabled(id, false) {
			logger.Warn("unknown skill in skills.disabled", zap.String("id", id))
		}
	}
}
