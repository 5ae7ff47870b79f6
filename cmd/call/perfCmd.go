package call

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/remoting/cmd/util"
	"github.com/ValentinKolb/remoting/rpc/client"
	"github.com/ValentinKolb/remoting/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for remoting servers",
		Long:    "Performance testing tool for remoting servers. Requires the demo handlers of the serve command (codes 100 and 101).",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfCodeEcho         int16 = 100
	perfCodeDeferred     int16 = 101
	perfNumThreads             = 10
	perfBodySize               = 64
	perfLargeBodySizeKB        = 64
	perfRate                   = 0.0
	perfSkip                   = make([]string, 0)
	perfLatencyPercentiles     = []float64{0.5, 0.95, 0.99}
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. oneway,callback)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "body-size"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("Size of the request body (in bytes)"))
	key = "large-body-size"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("Size of the request body for the sync-large test (in KB)"))
	key = "rate"
	perfTestCmd.Flags().Float64(key, 0, util.WrapString("Maximum number of requests per second over all threads. Unlimited if 0"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfBodySize = viper.GetInt("body-size")
	perfLargeBodySizeKB = viper.GetInt("large-body-size")
	perfRate = viper.GetFloat64("rate")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumThreads <= 0 || perfBodySize < 0 || perfLargeBodySizeKB < 0 || perfRate < 0 {
		return fmt.Errorf("threads must be positive, sizes and rate must not be negative")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for remoting servers")

	// number of callback requests without response
	var outstanding atomic.Int64
	c, err := newClient(func(c *client.RemotingClient) {
		c.RegisterResponseHandler(perfCodeEcho, client.ResponseHandlerFunc(func(*common.Response) {
			outstanding.Add(-1)
		}))
	})
	if err != nil {
		return err
	}
	defer c.Shutdown()

	// Print configuration
	config := util.GetClientConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, Body: %d B, Large Body: %d KB, Rate: %s\n", perfNumThreads, perfBodySize, perfLargeBodySizeKB, formatRate(perfRate))
	fmt.Println()

	fmt.Println("staring tests...")

	timeout := util.GetTimeout()
	body := make([]byte, perfBodySize)
	largeBody := make([]byte, perfLargeBodySizeKB*1024)
	limiter := newLimiter()
	registry := gometrics.NewRegistry()

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	// syncBenchmark measures the latency of every request with a go-metrics timer
	syncBenchmark := func(test string, code int16, payload []byte) testing.BenchmarkResult {
		timer := gometrics.GetOrRegisterTimer(test, registry)
		return testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test) {
				return
			}

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					limiter.wait()
					start := time.Now()
					if _, err := c.InvokeSync(code, payload, nil, timeout); err != nil {
						log.Printf("(%s) - error: %v\n", test, err)
						continue
					}
					timer.UpdateSince(start)
				}
			})
		})
	}

	results["sync"] = syncBenchmark("sync", perfCodeEcho, body)
	printResult("sync", results["sync"])

	results["sync-large"] = syncBenchmark("sync-large", perfCodeEcho, largeBody)
	printResult("sync-large", results["sync-large"])

	results["deferred"] = syncBenchmark("deferred", perfCodeDeferred, body)
	printResult("deferred", results["deferred"])

	onewayResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("oneway") {
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				limiter.wait()
				if err := c.InvokeOneway(perfCodeEcho, body, nil); err != nil {
					log.Printf("(oneway) - error: %v\n", err)
				}
			}
		})

		// include the time to drain the send queue
		waitSent(c)
	})

	results["oneway"] = onewayResult
	printResult("oneway", onewayResult)

	callbackResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("callback") {
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				limiter.wait()
				outstanding.Add(1)
				if err := c.InvokeWithCallback(perfCodeEcho, body, nil); err != nil {
					outstanding.Add(-1)
					log.Printf("(callback) - error: %v\n", err)
				}
			}
		})

		// wait for all responses
		deadline := time.Now().Add(timeout)
		for outstanding.Load() > 0 && time.Now().Before(deadline) {
			time.Sleep(100 * time.Microsecond)
		}
		if n := outstanding.Load(); n > 0 {
			log.Printf("(callback) - %d responses missing after %s\n", n, timeout)
			outstanding.Store(0)
		}
	})

	results["callback"] = callbackResult
	printResult("callback", callbackResult)

	// Print latency distribution of the sync tests
	fmt.Println()
	fmt.Println("Latency:")
	registry.Each(func(name string, m interface{}) {
		if timer, ok := m.(gometrics.Timer); ok && timer.Count() > 0 {
			printLatency(name, timer.Snapshot())
		}
	})

	fmt.Printf("\nFlow control: %d\n", c.FlowControlCount())

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, registry, config); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// perfLimiter limits the request rate over all threads. A nil limiter is unlimited.
type perfLimiter struct {
	limiter *rate.Limiter
}

func newLimiter() perfLimiter {
	if perfRate <= 0 {
		return perfLimiter{}
	}
	return perfLimiter{limiter: rate.NewLimiter(rate.Limit(perfRate), perfNumThreads)}
}

func (l perfLimiter) wait() {
	if l.limiter != nil {
		_ = l.limiter.Wait(context.Background())
	}
}

func formatRate(r float64) string {
	if r <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%.0f req/s", r)
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// printLatency prints count, mean and percentiles of a timer
func printLatency(test string, timer gometrics.Timer) {
	ps := timer.Percentiles(perfLatencyPercentiles)
	fmt.Printf("%-20sn=%d mean=%s p50=%s p95=%s p99=%s max=%s\n", test, timer.Count(),
		time.Duration(timer.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]),
		time.Duration(timer.Max()))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, registry gometrics.Registry, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"P50Ns", "P95Ns", "P99Ns",
		"Endpoint", "Threads", "BodySize", "LargeBodySizeKB", "Rate",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	// Write test results
	for _, test := range tests {
		result := results[test]

		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		percentiles := []string{"", "", ""}
		if timer, ok := registry.Get(test).(gometrics.Timer); ok && timer.Count() > 0 {
			for i, p := range timer.Percentiles(perfLatencyPercentiles) {
				percentiles[i] = fmt.Sprintf("%.0f", p)
			}
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			percentiles[0],
			percentiles[1],
			percentiles[2],
			config.ServerEndpoint,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfBodySize),
			strconv.Itoa(perfLargeBodySizeKB),
			strconv.FormatFloat(perfRate, 'f', -1, 64),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
