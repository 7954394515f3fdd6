package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/service"
)

// PerfResult gathers aggregated metrics for the test run.
// Atomic counters are used to avoid lock-contention on hot paths.
// LatencySum & P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests  int64
	SuccessCount   int64
	ExhaustedCount int64
	ErrorCount     int64
	LatencySum     int64
	P95Latency     int64
	CentsAllocated int64
}

// Run the server with SERVER_RATE_LIMIT_RPS=0 or above fixedRPSTarget, or
// most requests come back rate limited.
const (
	baseURL        = "http://localhost:8080"
	fixedWorkers   = 50
	fixedRPSTarget = 500
	fixedDuration  = 30 * time.Second
	defaultTimeout = 30 * time.Second
	codesPerDenom  = 2000
	maxTopUpCents  = 10000
)

var seedDenominations = []int64{500, 1000, 2500, 5000, 10000}

func main() {
	rps := fixedRPSTarget
	duration := fixedDuration
	workers := fixedWorkers

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        workers * 4,
		MaxIdleConnsPerHost: workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := service.NewInventoryClient(httpClient, baseURL)

	// ─── Inventory seeding ───────────────────────────────────────
	batch := fmt.Sprintf("perf-%d", time.Now().Unix())
	seeded, err := seedInventory(client, batch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed inventory: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded batch %s: %d codes\n", batch, seeded)

	// ─── Banner ──────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Gift code allocation load test")
	fmt.Println("==========================================")
	fmt.Printf("Target RPS : %d\n", rps)
	fmt.Printf("Duration   : %v\n", duration)
	fmt.Printf("Workers    : %d\n", workers)
	fmt.Println("==========================================")

	// ─── Rate limiter & context ─────────────────────────────────
	burst := max(1, rps/workers)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var result PerfResult
	var wg sync.WaitGroup
	var claimedMu sync.Mutex
	claimed := make(map[int64]int)

	// latencyChan collects latencies for P95 estimation.
	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	// ─── Workers ────────────────────────────────────────────────
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				codes := doRequest(client, &result, latencyChan)
				if len(codes) == 0 {
					continue
				}
				claimedMu.Lock()
				for _, c := range codes {
					claimed[c.ID]++
				}
				claimedMu.Unlock()
			}
		}()
	}

	start := time.Now()
	<-ctx.Done()

	// ─── Cleanup ────────────────────────────────────────────────
	wg.Wait()
	close(latencyChan)
	<-p95Done

	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	fmt.Println("==========================================")
	fmt.Println("Results")
	fmt.Println("==========================================")
	fmt.Printf("Elapsed            : %.2fs\n", totalDur.Seconds())
	fmt.Printf("Total requests     : %d\n", result.TotalRequests)
	fmt.Printf("Allocated          : %d\n", result.SuccessCount)
	fmt.Printf("Out of inventory   : %d\n", result.ExhaustedCount)
	fmt.Printf("Errors             : %d\n", result.ErrorCount)
	fmt.Printf("Cents allocated    : %d\n", result.CentsAllocated)

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	fmt.Printf("Actual RPS         : %.2f\n", float64(result.TotalRequests)/totalDur.Seconds())
	fmt.Printf("Average latency    : %v\n", avgLatency)
	fmt.Printf("P95 latency        : %v\n", time.Duration(result.P95Latency))
	fmt.Println("==========================================")

	// ─── Data Consistency Check ─────────────────────────────────
	fmt.Println("Consistency check")
	fmt.Println("==========================================")
	if err := verifyNoDoubleClaim(client, claimed); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK: every claimed code was handed out once and is ALLOCATED")
	fmt.Println("==========================================")
}

// seedInventory generates codesPerDenom codes of every seed denomination
func seedInventory(client *service.InventoryClient, batch string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	total := 0
	var seq uint64
	for _, denom := range seedDenominations {
		res, err := client.GenerateCodes(ctx, connect.NewRequest(&service.GenerateCodesRequest{
			GenerateRequest: inventory.GenerateRequest{
				Batch:        batch,
				StartSeq:     seq,
				Count:        codesPerDenom,
				Denomination: denom,
				ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
			},
		}))
		if err != nil {
			return total, fmt.Errorf("generate %d cent codes: %w", denom, err)
		}
		total += res.Msg.Imported
		seq += codesPerDenom
	}
	return total, nil
}

// doRequest performs a single Allocate RPC for a random amount and returns
// the codes it claimed
func doRequest(client *service.InventoryClient, result *PerfResult, latencyChan chan<- time.Duration) []model.GiftCode {
	// Use independent context to avoid cancellation when test ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	target := 100 + rand.Int63n(maxTopUpCents)
	req := connect.NewRequest(&service.AllocateRequest{TargetAmountCents: target})

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.Allocate(ctx, req)
	latency := time.Since(start)

	if err != nil {
		if connect.CodeOf(err) == connect.CodeResourceExhausted {
			atomic.AddInt64(&result.ExhaustedCount, 1)
		} else {
			atomic.AddInt64(&result.ErrorCount, 1)
		}
		return nil
	}

	atomic.AddInt64(&result.SuccessCount, 1)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	atomic.AddInt64(&result.CentsAllocated, resp.Msg.Result.TotalAllocated)
	select {
	case latencyChan <- latency:
	default:
	}
	return resp.Msg.Result.SelectedCodes
}

// trackP95 maintains a best-effort rolling P95 latency estimation.
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := rand.Intn(size); idx < size/10 {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			sorted := slices.Clone(buf)
			slices.Sort(sorted)
			p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
			atomic.StoreInt64(&result.P95Latency, sorted[p95Index])
		}
	}
}

// verifyNoDoubleClaim checks that no code was returned to two allocations
// and that every returned code is ALLOCATED in the store
func verifyNoDoubleClaim(client *service.InventoryClient, claimed map[int64]int) error {
	for id, n := range claimed {
		if n > 1 {
			return fmt.Errorf("code %d was allocated %d times", id, n)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.ListCodes(ctx, connect.NewRequest(&service.ListCodesRequest{Status: model.CodeAllocated}))
	if err != nil {
		return fmt.Errorf("failed to list allocated codes: %w", err)
	}
	allocated := make(map[int64]bool, len(resp.Msg.GiftCodes))
	for _, c := range resp.Msg.GiftCodes {
		allocated[c.ID] = true
	}

	fmt.Printf("Claimed by test    : %d\n", len(claimed))
	fmt.Printf("ALLOCATED in store : %d\n", len(allocated))

	for id := range claimed {
		if !allocated[id] {
			return fmt.Errorf("code %d was handed out but is not ALLOCATED", id)
		}
	}
	return nil
}
