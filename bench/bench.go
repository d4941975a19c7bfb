// Package bench defines the target-adapter API spec.md §6 reserves for the
// out-of-scope benchmark harness, and the harness that drives it:
// concurrent getters and one seeding putter against whichever Backend the
// CLI names, collecting latency samples for the --avg/--cdf summary. The
// getter pool follows the teacher's worker-pool goroutine shape; that pool
// itself is not part of this repository (see DESIGN.md).
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ArticleVoteCount is the result of a Getter.Get call: an article joined
// with its current vote count, or absent if the article has never been
// written (spec.md §6).
type ArticleVoteCount struct {
	ID        int64
	Title     string
	VoteCount int64
}

// Putter writes into the article/vote base tables (spec.md §6).
type Putter interface {
	Article(id int64, title string) error
	Vote(user, id int64) error
}

// Getter reads the article-with-vote-count view (spec.md §6).
type Getter interface {
	Get(id int64) (ArticleVoteCount, bool, error)
}

// Backend names a target the benchmark can drive: the engine itself, a SQL
// database, or a memory cache (spec.md §6's CLI surface).
type Backend interface {
	Putter() (Putter, error)
	Getter() (Getter, error)
}

// Config controls one benchmark run, mirroring the CLI flags of spec.md §6.
type Config struct {
	Getters  int
	Articles int
	Average  bool
	CDF      bool
	Stage    bool
	Runtime  time.Duration
	Migrate  time.Duration
}

// Result summarizes one run's latency samples.
type Result struct {
	Samples []time.Duration
	Gets    uint64
	Puts    uint64
}

// Average returns the mean latency across every recorded sample.
func (r Result) Average() time.Duration {
	if len(r.Samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range r.Samples {
		total += s
	}
	return total / time.Duration(len(r.Samples))
}

// CDF returns the latency at each of the given percentiles (0-100),
// computed over a sorted copy of the samples. No library in the example
// corpus offers percentile statistics, so this is a direct sort-and-index
// computation (see DESIGN.md for why no suitable dependency covers it).
func (r Result) CDF(percentiles ...float64) map[float64]time.Duration {
	out := make(map[float64]time.Duration, len(percentiles))
	if len(r.Samples) == 0 {
		for _, p := range percentiles {
			out[p] = 0
		}
		return out
	}
	sorted := append([]time.Duration(nil), r.Samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, p := range percentiles {
		idx := int(p / 100 * float64(len(sorted)-1))
		out[p] = sorted[idx]
	}
	return out
}

// Run drives cfg.Getters concurrent readers and one writer goroutine
// seeding cfg.Articles articles (plus one vote each) against backend, for
// cfg.Runtime. If cfg.Stage is set, all writes complete before any reads
// begin instead of running concurrently (spec.md §6's --stage flag). If
// cfg.Migrate is positive, the caller is expected to apply its migration at
// that offset separately — Run only measures throughput and latency.
func Run(ctx context.Context, backend Backend, cfg Config) (Result, error) {
	putter, err := backend.Putter()
	if err != nil {
		return Result{}, fmt.Errorf("bench: acquire putter: %w", err)
	}
	getter, err := backend.Getter()
	if err != nil {
		return Result{}, fmt.Errorf("bench: acquire getter: %w", err)
	}

	var result Result
	var mu sync.Mutex
	recordSample := func(d time.Duration) {
		mu.Lock()
		result.Samples = append(result.Samples, d)
		mu.Unlock()
	}

	if cfg.Stage {
		if err := seedArticles(putter, cfg.Articles, &result.Puts); err != nil {
			return result, err
		}
		runGetters(ctx, getter, cfg, recordSample, &result.Gets)
		return result, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = seedArticles(putter, cfg.Articles, &result.Puts)
	}()
	runGetters(ctx, getter, cfg, recordSample, &result.Gets)
	wg.Wait()
	return result, nil
}

func seedArticles(putter Putter, articles int, puts *uint64) error {
	for id := int64(1); id <= int64(articles); id++ {
		if err := putter.Article(id, fmt.Sprintf("article-%d", id)); err != nil {
			return fmt.Errorf("bench: seed article %d: %w", id, err)
		}
		if err := putter.Vote(id, id); err != nil {
			return fmt.Errorf("bench: seed vote for article %d: %w", id, err)
		}
		atomic.AddUint64(puts, 2)
	}
	return nil
}

func runGetters(ctx context.Context, getter Getter, cfg Config, recordSample func(time.Duration), gets *uint64) {
	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.Runtime > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Runtime)
		defer cancel()
	}

	var wg sync.WaitGroup
	n := cfg.Getters
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			src := rand.New(rand.NewSource(int64(worker) + 1))
			for {
				select {
				case <-runCtx.Done():
					return
				default:
				}
				id := int64(src.Intn(max(cfg.Articles, 1))) + 1
				start := time.Now()
				_, _, _ = getter.Get(id)
				recordSample(time.Since(start))
				atomic.AddUint64(gets, 1)
			}
		}(i)
	}
	wg.Wait()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
