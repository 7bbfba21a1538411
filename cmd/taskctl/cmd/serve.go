package cmd

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/makermatrix/taskctl/internal/api"
	"github.com/makermatrix/taskctl/internal/api/middleware"
	"github.com/makermatrix/taskctl/internal/config"
	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/handler"
	"github.com/makermatrix/taskctl/internal/notify"
	"github.com/makermatrix/taskctl/internal/observability"
	"github.com/makermatrix/taskctl/internal/policy"
	"github.com/makermatrix/taskctl/internal/recurring"
	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/scheduler"
	"github.com/makermatrix/taskctl/internal/service"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

var useMemoryStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task subsystem's HTTP + dispatch loop",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&useMemoryStore, "memory-store", false, "use the in-process MemoryStore instead of Postgres (dev/test only)")
	rootCmd.AddCommand(serveCmd)
}

// runServe is the composition root: store -> event bus (plus the Redis relay
// when configured) -> registry/handlers -> policy -> scheduler -> service ->
// recurring scheduler -> worker start -> API -> ListenAndServe. Grounded on control_plane/main.go's single linear wiring
// function (no DI framework, no wire/fx).
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Stop()

	if cfg.RedisAddr != "" && !useMemoryStore {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		bus.SetRelay(eventbus.NewRedisRelay(client, "taskctl:events"))
	}

	reg := registry.New()
	deps := handler.DefaultDependencies()
	if cfg.SlackToken != "" {
		deps.Notifier = notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel)
	}
	handler.RegisterAll(reg, deps)

	handlerTimeout := func(task.Type) time.Duration {
		return time.Duration(cfg.DefaultTimeoutSeconds) * time.Second
	}
	pol := policy.NewEngine(st, bus, handlerTimeout)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.TickPeriod = cfg.DispatchTick
	schedCfg.ErrorBackoff = cfg.DispatchErrorBackoff
	schedCfg.DefaultTimeout = time.Duration(cfg.DefaultTimeoutSeconds) * time.Second
	schedCfg.StaleGuardMin = cfg.StaleGuardMin
	disp := scheduler.New(st, reg, bus, schedCfg)

	svc := service.New(st, pol, disp, bus, reg, service.Options{
		DefaultTimeoutSeconds: cfg.DefaultTimeoutSeconds,
	})

	cron := recurring.New(st, svc)
	if err := cron.Start(ctx); err != nil {
		observability.Errorf("serve", "recurring scheduler start: %v", err)
	}
	defer cron.Stop()

	svc.StartWorker(ctx)

	resolve := devCapabilityResolver()
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(svc, resolve, cfg.CORSAllowedOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // disabled: the websocket stream holds connections open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		observability.Infof("serve", "listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	observability.Infof("serve", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err := svc.StopWorker(shutdownCtx); err != nil {
		observability.Errorf("serve", "scheduler stop: %v", err)
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if useMemoryStore {
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.DatabaseURL)
}

// devCapabilityResolver maps a bearer token directly to a capability set
// carried in the token itself ("userID:cap1,cap2,..."). Real token
// validation (JWT, session lookup) is an external collaborator per spec.md
// §1; this is the minimal seam implementation needed to run the server.
func devCapabilityResolver() middleware.CapabilityResolver {
	return func(tok string) (task.Actor, error) {
		userID, capsPart := splitOnce(tok, ":")
		caps := map[string]bool{}
		for _, c := range splitComma(capsPart) {
			caps[c] = true
		}
		return task.Actor{UserID: userID, Capabilities: caps}, nil
	}
}

func splitOnce(s, sep string) (string, string) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):]
		}
	}
	return s, ""
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
