package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goMagicLink "github.com/MrEthical07/goMagicLink"
	"github.com/MrEthical07/goMagicLink/directory"
	"github.com/MrEthical07/goMagicLink/eventcache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		users       = flag.Int("users", 10000, "number of directory users to seed")
		tenants     = flag.Int("tenants", 4, "number of tenants to spread users over")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authenticate + read)")
		latency     = flag.Duration("upstream-latency", 0, "simulated verification latency")
		rejectPct   = flag.Int("reject-pct", 10, "percentage of challenges the stub upstream rejects")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ml-load", "directory key prefix")
	)
	flag.Parse()

	if *users <= 0 || *tenants <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, tenants, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	upstream := newStubUpstream(*latency, *rejectPct)
	defer upstream.Close()

	dir := directory.NewStore(client, *prefix)
	fmt.Printf("seeding %d users over %d tenants...\n", *users, *tenants)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		attrs := map[string]string{"phoneNumber": phoneFor(i)}
		if err := dir.PutUser(ctx, tenantFor(i, *tenants), usernameFor(i), attrs); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	auth, err := goMagicLink.New().WithUserDirectory(dir).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer auth.Close()

	settings := map[string]string{
		goMagicLink.SettingURL:             upstream.URL,
		goMagicLink.SettingAPIKey:          "load",
		goMagicLink.SettingEventLogMaxSize: "5000",
	}

	authStats := runAuthenticatePhase(ctx, auth, settings, *users, *tenants, *ops, *concurrency)
	readStats := runReadPhase(auth.Caches(), *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("read", readStats)

	m := auth.Metrics()
	fmt.Printf("success=%d rejected=%d errors=%d\n",
		m.Value(goMagicLink.MetricChallengeSuccess),
		m.Value(goMagicLink.MetricChallengeRejected),
		m.Value(goMagicLink.MetricChallengeError),
	)
}

func runAuthenticatePhase(ctx context.Context, auth *goMagicLink.Authenticator, settings map[string]string, users, tenants, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(users)
				req := goMagicLink.FlowRequest{
					TenantID: tenantFor(idx, tenants),
					User:     &goMagicLink.User{Username: usernameFor(idx)},
					ClientIP: fmt.Sprintf("10.0.%d.%d", worker%256, idx%256),
					Settings: settings,
				}
				t0 := time.Now()
				d := auth.Authenticate(ctx, req)
				elapsed := time.Since(t0)
				if d.Category == goMagicLink.CategoryInternalError {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runReadPhase mirrors the dashboard's read mix against the live caches.
func runReadPhase(caches *eventcache.Manager, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)
	tenants := caches.Tenants()
	if len(tenants) == 0 {
		return phaseStats{}
	}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c, err := caches.Get(tenants[r.Intn(len(tenants))])
				if err != nil {
					continue
				}
				t0 := time.Now()
				switch i % 3 {
				case 0:
					_ = c.RecentEvents(500)
				case 1:
					_ = c.TopUsernames(20)
				default:
					_ = c.Stats()
				}
				elapsed := time.Since(t0)
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, 0)
}

// newStubUpstream answers every challenge after delay, rejecting rejectPct
// percent of them.
func newStubUpstream(delay time.Duration, rejectPct int) *httptest.Server {
	var n atomic.Uint64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		code := "TOUCH_ACCEPTED"
		if int(n.Add(1)%100) < rejectPct {
			code = "TOUCH_REJECTED"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"` + code + `"}`))
	}))
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func tenantFor(i, tenants int) string {
	return fmt.Sprintf("tenant-%d", i%tenants)
}

func usernameFor(i int) string {
	return fmt.Sprintf("user-%06d", i)
}

func phoneFor(i int) string {
	return fmt.Sprintf("+4670%07d", i)
}
