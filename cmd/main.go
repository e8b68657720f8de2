// Command cyberdevstudio boots the sandbox RPC server: it loads
// configuration, wires every sandbox component and its optional
// collaborators (Redis history mirror, S3 artifact mirror, Prometheus
// telemetry), and serves JSON-RPC over HTTP until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cyberdevstudio/internal/artifacts"
	"cyberdevstudio/internal/auth"
	"cyberdevstudio/internal/config"
	"cyberdevstudio/internal/dispatch"
	"cyberdevstudio/internal/handlers"
	"cyberdevstudio/internal/history"
	"cyberdevstudio/internal/logging"
	"cyberdevstudio/internal/projects"
	"cyberdevstudio/internal/rpc"
	"cyberdevstudio/internal/sandbox/fsops"
	"cyberdevstudio/internal/sandbox/microvm"
	"cyberdevstudio/internal/sandbox/runner"
	"cyberdevstudio/internal/sandbox/wasmrun"
	"cyberdevstudio/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logging isn't initialized yet; this is the one place the process
		// reports a problem before it exists.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logging.Init()
	defer logging.Sync()
	log := logging.L().Named("main")

	fs, err := fsops.New(cfg.Root, cfg.MaxFileSize)
	if err != nil {
		log.Fatal("construct filesystem sandbox", zap.Error(err))
	}

	runRunner, err := newRunner(cfg)
	if err != nil {
		log.Fatal("construct process runner", zap.Error(err))
	}

	wasmRunner, err := wasmrun.New(cfg.Root, wasmrun.Defaults{
		Fuel:        cfg.Wasm.DefaultFuel,
		MemoryLimit: uint32(cfg.Wasm.MaxMemoryBytes / (64 << 10)),
		TableLimit:  cfg.Wasm.MaxTableElements,
		CallTimeout: cfg.Run.DefaultTimeout,
	})
	if err != nil {
		log.Fatal("construct wasm runner", zap.Error(err))
	}

	microRunner, err := newMicroVM(cfg)
	if err != nil {
		log.Fatal("construct micro-vm runner", zap.Error(err))
	}

	agentDispatcher := dispatch.New(dispatch.Config{
		LLMEndpoint:     cfg.Agent.LLMEndpoint,
		APIKey:          cfg.Agent.APIKey,
		DefaultModel:    cfg.Agent.DefaultModel,
		RequestTimeout:  cfg.Agent.RequestTimeout,
		HistoryCapacity: cfg.Agent.HistoryCapacity,
		MaxContextBytes: cfg.Agent.MaxContextBytes,
	})

	store, err := projects.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open project store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	artifactMirror, err := artifacts.New(ctx, cfg.ArtifactBucket)
	if err != nil {
		log.Fatal("construct artifact mirror", zap.Error(err))
	}

	redisMirror := newRedisMirror(ctx, cfg, log)
	if redisMirror != nil {
		defer redisMirror.Close()
	}
	agentDispatcher.SetHistoryMirror(&handlers.CombinedMirror{Redis: redisMirror, Artifacts: artifactMirror})

	recorder := telemetry.Recorder(telemetry.NewPrometheus(nil))

	blacklist := auth.NewTokenBlacklist()
	defer blacklist.Stop()
	bearerVerifier := auth.NewBearerVerifier(cfg.BearerSigningKey, "cyberdevstudio", blacklist)
	apiKeyVerifier := auth.NewAPIKeyVerifier(store)

	router := rpc.New(bearerVerifier, apiKeyVerifier)
	handlers.Register(router, handlers.Deps{
		FS:        fs,
		Run:       runRunner,
		Wasm:      wasmRunner,
		Micro:     microRunner,
		Dispatch:  agentDispatcher,
		Projects:  store,
		Telemetry: recorder,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router.Engine().GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         ":" + getPort(),
		Handler:      router.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shut down", zap.Error(err))
	}
	log.Info("shut down cleanly")
}

func getPort() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "8080"
}

func newRunner(cfg *config.Config) (*runner.Runner, error) {
	allowed := make(map[string]struct{}, len(cfg.Run.AllowedPrograms))
	for _, p := range cfg.Run.AllowedPrograms {
		allowed[p] = struct{}{}
	}
	envAllow := make(map[string]struct{}, len(cfg.Run.EnvAllowlist))
	for _, e := range cfg.Run.EnvAllowlist {
		envAllow[e] = struct{}{}
	}

	r, err := runner.New(runner.Config{
		Root:            cfg.Root,
		AllowedPrograms: allowed,
		EnvAllowlist:    envAllow,
		FixedEnv:        cfg.Run.FixedEnv,
		DefaultTimeout:  cfg.Run.DefaultTimeout,
		MaxTimeout:      cfg.Run.MaxTimeout,
		MaxOutputBytes:  cfg.Run.MaxOutputBytes,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Run.AuditLogPath != "" {
		if err := r.EnableAuditLog(cfg.Run.AuditLogPath); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newMicroVM(cfg *config.Config) (*microvm.Runner, error) {
	images := make(map[string]microvm.Image, len(cfg.Micro.Images))
	for name, img := range cfg.Micro.Images {
		images[name] = microvm.Image{
			Name:      img.Name,
			Command:   img.Command,
			Args:      img.Args,
			Extension: img.Extension,
			Env:       img.Env,
		}
	}
	return microvm.New(microvm.Config{
		Root:           cfg.Root,
		Images:         images,
		DefaultTimeout: cfg.Micro.DefaultTimeout,
		MaxTimeout:     cfg.Micro.MaxTimeout,
		MaxOutputBytes: cfg.Micro.MaxOutputBytes,
		BaseEnv:        cfg.Micro.BaseEnv,
	})
}

// newRedisMirror returns nil when REDIS_URL is unset, degrading task-history
// mirroring to the dispatcher's in-memory history only.
func newRedisMirror(ctx context.Context, cfg *config.Config, log *zap.Logger) *history.RedisMirror {
	if cfg.RedisURL == "" {
		return nil
	}
	m, err := history.NewRedisMirror(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis history mirror unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return m
}
