package ledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"pgregory.net/rapid"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/kv"
)

// The counter must track admissions exactly and never exceed the hourly max,
// no matter how acquires and releases interleave.
func TestLedger_CounterInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		mr, err := miniredis.Run()
		if err != nil {
			rt.Fatal(err)
		}
		defer mr.Close()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		max := rapid.IntRange(1, 10).Draw(rt, "max")
		cfg := config.Default()
		cfg.Limits.RateLimitPerHour = max
		ldg := New(kv.NewRedisStoreFromClient(client), cfg)

		ctx := context.Background()
		outstanding := 0

		ops := rapid.SliceOfN(rapid.Bool(), 1, 40).Draw(rt, "ops")
		for _, acquire := range ops {
			if acquire {
				ok, err := ldg.Acquire(ctx)
				if err != nil {
					rt.Fatal(err)
				}
				if ok {
					outstanding++
				}
				if ok && outstanding > max {
					rt.Fatalf("admitted %d slots with max %d", outstanding, max)
				}
				if !ok && outstanding < max {
					rt.Fatalf("denied with only %d of %d slots taken", outstanding, max)
				}
			} else {
				if err := ldg.Release(ctx); err != nil {
					rt.Fatal(err)
				}
				if outstanding > 0 {
					outstanding--
				}
			}

			count, err := ldg.CurrentCount(ctx)
			if err != nil {
				rt.Fatal(err)
			}
			if count != int64(outstanding) {
				rt.Fatalf("counter %d, expected %d", count, outstanding)
			}
		}
	})
}
