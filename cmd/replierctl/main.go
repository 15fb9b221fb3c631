// Command replierctl is an operator CLI for inspecting and resetting the
// auto-replier's runtime state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/b89k57w62/discourse-ai-replier/internal/aiclient"
	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
	"github.com/b89k57w62/discourse-ai-replier/internal/kv"
	"github.com/b89k57w62/discourse-ai-replier/internal/ledger"
	"github.com/b89k57w62/discourse-ai-replier/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	switch os.Args[1] {
	case "health":
		runHealth()
	case "stats":
		runStats()
	case "selection-stats":
		runSelectionStats()
	case "reset-rate-limit":
		runResetRateLimit()
	case "clear-cooldowns":
		runClearCooldowns()
	case "cooldown":
		if len(os.Args) < 3 {
			fmt.Println("Usage: replierctl cooldown <topic-id>")
			os.Exit(1)
		}
		runCooldown(os.Args[2])
	case "test-connection":
		runTestConnection()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: replierctl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health            Show the readiness snapshot")
	fmt.Println("  stats             Show agent pool, quota and reply stats")
	fmt.Println("  selection-stats   Show candidate pool sizes per tier")
	fmt.Println("  reset-rate-limit  Drop the current hour's request counter")
	fmt.Println("  clear-cooldowns   Remove all topic cooldown markers")
	fmt.Println("  cooldown <id>     Show remaining cooldown for a topic")
	fmt.Println("  test-connection   Probe the generation API endpoint")
}

// deps wires the subset of the daemon the CLI needs.
type deps struct {
	cfg     *config.Config
	forum   *store.Store
	redis   *kv.RedisStore
	ledger  *ledger.Ledger
	monitor *health.Monitor
}

func setup() *deps {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if key := os.Getenv("AI_REPLIER_API_KEY"); key != "" {
		cfg.API.Key = key
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
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

	redisStore := kv.NewRedisStore(cfg.Redis)
	if err := redisStore.Ping(context.Background()); err != nil {
		log.Fatalf("Failed to reach key/expiry store: %v", err)
	}

	ldg := ledger.New(redisStore, cfg)
	return &deps{
		cfg:     cfg,
		forum:   forum,
		redis:   redisStore,
		ledger:  ldg,
		monitor: health.New(redisStore, ldg, forum, cfg),
	}
}

func (d *deps) close() {
	d.forum.Close()
	d.redis.Close()
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render output: %v", err)
	}
	fmt.Println(string(out))
}

func runHealth() {
	d := setup()
	defer d.close()
	printJSON(d.monitor.Check(context.Background()))
}

func runStats() {
	d := setup()
	defer d.close()

	stats, err := d.monitor.Stats(context.Background())
	if err != nil {
		log.Fatalf("Failed to gather stats: %v", err)
	}
	printJSON(stats)
}

func runSelectionStats() {
	d := setup()
	defer d.close()

	cutoff := time.Now().AddDate(0, 0, -d.cfg.Selection.OldTopicDays)
	stats, err := d.forum.CountSelection(context.Background(),
		d.cfg.Selection.QuietTopicMaxPosts, cutoff, d.cfg.Selection.OldTopicMinViews)
	if err != nil {
		log.Fatalf("Failed to gather selection stats: %v", err)
	}
	printJSON(stats)
}

func runResetRateLimit() {
	d := setup()
	defer d.close()

	if err := d.ledger.ResetRateLimit(context.Background()); err != nil {
		log.Fatalf("Failed to reset rate limit: %v", err)
	}
	fmt.Println("Rate limit counter reset for the current hour")
}

func runClearCooldowns() {
	d := setup()
	defer d.close()

	n, err := d.ledger.ClearAllCooldowns(context.Background())
	if err != nil {
		log.Fatalf("Failed to clear cooldowns: %v", err)
	}
	fmt.Printf("Cleared %d topic cooldowns\n", n)
}

func runCooldown(arg string) {
	topicID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		log.Fatalf("Invalid topic id %q", arg)
	}

	d := setup()
	defer d.close()

	remaining, err := d.ledger.CooldownRemaining(context.Background(), topicID)
	if err != nil {
		log.Fatalf("Failed to read cooldown: %v", err)
	}
	if remaining == 0 {
		fmt.Printf("Topic #%d is not in cooldown\n", topicID)
		return
	}
	fmt.Printf("Topic #%d cooldown expires in %v\n", topicID, remaining.Round(time.Second))
}

func runTestConnection() {
	d := setup()
	defer d.close()

	client := aiclient.New(d.cfg, d.ledger, d.monitor)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if client.TestConnection(ctx) {
		fmt.Println("Connection OK")
		return
	}
	fmt.Println("Connection FAILED")
	os.Exit(1)
}
