// Command flowbench drives the article/vote/votecount/awvc workload
// against a named target backend, reporting throughput and (optionally)
// latency statistics (spec.md §6's CLI surface; SPEC_FULL.md §6.4).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowengine/flowengine"
	"github.com/flowengine/flowengine/bench"
	"github.com/flowengine/flowengine/config"
	"github.com/flowengine/flowengine/examples"
	"github.com/flowengine/flowengine/logctx"
)

var rootCmd = &cobra.Command{
	Use:   "flowbench <backend>://<params>",
	Short: "benchmark the article/vote/votecount/awvc workload against a target backend",
	Long: `flowbench drives concurrent getters (and, unless --stage, concurrent
putters) against a target named by its positional argument, in the shape
<backend>://<params>. The engine itself is always available as "engine://";
other schemes are reserved for out-of-scope SQL and memory-cache adapters.`,
	Args: cobra.ExactArgs(1),
	RunE: runBench,
}

func init() {
	flags := rootCmd.Flags()
	flags.Bool("avg", false, "report mean getter latency")
	flags.Bool("cdf", false, "report getter latency percentiles")
	flags.Bool("stage", false, "complete all writes before any reads begin")
	flags.Int("getters", 1, "number of concurrent getter goroutines")
	flags.Int("articles", 1000, "number of articles to seed")
	flags.Duration("runtime", 10*time.Second, "how long to run the getter workload")
	flags.Duration("migrate", 0, "migration offset; accepted and validated (mutually exclusive with --stage), but no migration is triggered, only a warning is logged")
	flags.String("log-format", "text", "log output format: text or json")
	flags.String("log-level", "info", "log level")

	viper.BindPFlags(flags)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := config.BenchConfig{
		Target:   args[0],
		Average:  viper.GetBool("avg"),
		CDF:      viper.GetBool("cdf"),
		Stage:    viper.GetBool("stage"),
		Getters:  viper.GetInt("getters"),
		Articles: viper.GetInt("articles"),
		Runtime:  viper.GetDuration("runtime"),
		Migrate:  viper.GetDuration("migrate"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("flowbench: invalid configuration: %w", err)
	}

	log := logctx.New("flowbench", viper.GetString("log-format"), viper.GetString("log-level"))

	backend, cleanup, err := resolveBackend(cfg.Target, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if cfg.Migrate > 0 {
		log.WithField("migrate_after", cfg.Migrate).Warn("flowbench: --migrate is not yet wired to an automatic migration trigger; run it out of band")
	}

	result, err := bench.Run(ctx, backend, bench.Config{
		Getters:  cfg.Getters,
		Articles: cfg.Articles,
		Average:  cfg.Average,
		CDF:      cfg.CDF,
		Stage:    cfg.Stage,
		Runtime:  cfg.Runtime,
		Migrate:  cfg.Migrate,
	})
	if err != nil {
		return fmt.Errorf("flowbench: run failed: %w", err)
	}

	fmt.Printf("gets=%d puts=%d\n", result.Gets, result.Puts)
	if cfg.Average {
		fmt.Printf("avg latency: %s\n", result.Average())
	}
	if cfg.CDF {
		for p, d := range result.CDF(50, 90, 99) {
			fmt.Printf("p%.0f latency: %s\n", p, d)
		}
	}
	return nil
}

// resolveBackend parses the <backend>://<params> target and returns a ready
// bench.Backend. Only "engine" is implemented in-process; any other scheme
// panics, matching spec.md §6's documented behavior for an unrecognized
// backend.
func resolveBackend(target string, log *logrus.Entry) (bench.Backend, func(), error) {
	scheme, _, ok := strings.Cut(target, "://")
	if !ok {
		return nil, nil, fmt.Errorf("flowbench: malformed target %q, want <backend>://<params>", target)
	}

	switch scheme {
	case "engine":
		econf := config.LoadEngineConfig()
		econf.LogFormat = viper.GetString("log-format")
		econf.LogLevel = viper.GetString("log-level")
		eng := flowengine.New(econf)
		ctx, cancel := context.WithCancel(context.Background())
		eng.Run(ctx)

		if err := examples.WireAWVC(eng); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("flowbench: wire engine workload: %w", err)
		}

		log.Info("flowbench: engine backend wired and running")
		backend := flowengine.NewEngineBackend(eng, "article", "vote", "awvc")
		cleanup := func() {
			cancel()
			_ = eng.Close()
		}
		return backend, cleanup, nil
	default:
		panic(fmt.Sprintf("flowbench: unrecognized backend %q", scheme))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
