// Command replierd is the AI auto-replier daemon: it periodically selects
// eligible topics and posts one generated reply per candidate, within the
// configured rate limits.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/b89k57w62/discourse-ai-replier/internal/aiclient"
	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
	"github.com/b89k57w62/discourse-ai-replier/internal/kv"
	"github.com/b89k57w62/discourse-ai-replier/internal/ledger"
	"github.com/b89k57w62/discourse-ai-replier/internal/replier"
	"github.com/b89k57w62/discourse-ai-replier/internal/scheduler"
	"github.com/b89k57w62/discourse-ai-replier/internal/selector"
	"github.com/b89k57w62/discourse-ai-replier/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "path to config.toml (default: platform config dir)")
	runOnce := flag.Bool("once", false, "run a single selection cycle and exit")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := loadConfig(*configPath)
	if key := os.Getenv("AI_REPLIER_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration invalid: %v", err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDatabasePath()
		if err != nil {
			log.Fatalf("Failed to resolve database path: %v", err)
		}
	}

	forum, err := store.New(dbPath, store.Options{
		SystemUserID:     cfg.Replier.SystemUserID,
		AgentEmailPrefix: cfg.Replier.AgentEmailPrefix,
	})
	if err != nil {
		log.Fatalf("Failed to open forum store: %v", err)
	}
	defer forum.Close()

	redisStore := kv.NewRedisStore(cfg.Redis)
	defer redisStore.Close()
	if err := redisStore.Ping(context.Background()); err != nil {
		log.Fatalf("Failed to reach key/expiry store at %s: %v", cfg.Redis.Addr, err)
	}

	ldg := ledger.New(redisStore, cfg)
	monitor := health.New(redisStore, ldg, forum, cfg)
	client := aiclient.New(cfg, ldg, monitor)
	sel := selector.New(forum, ldg, cfg)
	rep := replier.New(forum, ldg, client, monitor, cfg)
	dispatcher := replier.NewAsyncDispatcher(forum, rep, monitor, cfg)
	cycle := replier.NewCycle(monitor, sel, dispatcher, monitor, cfg)

	if cfg.APIConfigured() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if client.TestConnection(ctx) {
			log.Println("Generation API connection test passed")
		} else {
			log.Println("Warning: generation API connection test failed")
		}
		cancel()
	}

	sched := scheduler.New()
	if err := sched.AddCycleJob(cfg.Dispatch.CycleIntervalMinutes, cycle.Run); err != nil {
		log.Fatalf("Failed to schedule selection cycle: %v", err)
	}

	if *runOnce {
		sched.RunNow("topic-selector", cycle.Run)
		dispatcher.Wait()
		return
	}

	sched.Start()
	log.Println("replierd started")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Println("replierd shutting down...")
	<-sched.Stop().Done()
	dispatcher.Wait()
	log.Println("replierd stopped")
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}

	if os.IsNotExist(err) && path == "" {
		// First run - create default config
		cfg = config.Default()
		if saveErr := cfg.Save(); saveErr != nil {
			log.Printf("Warning: could not save default config: %v", saveErr)
		} else {
			p, _ := config.ConfigPath()
			log.Printf("Created default config at: %s", p)
		}
		return cfg
	}

	log.Fatalf("Failed to load config: %v", err)
	return nil
}
