// Command aggpipe runs a configured aggregation over a tabular source and
// prints the final table plus a data-quality summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"aggpipe/internal/config"
	"aggpipe/internal/metrics"
	"aggpipe/internal/metrics/prompush"
	"aggpipe/internal/pipeline"
	"aggpipe/internal/schema"

	// register all export backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "aggpipe/internal/storage/all"
)

// main loads the run config, optionally initializes a metrics backend, and
// executes the run. SIGINT/SIGTERM cancel the context; partitions already in
// flight finish, the rest are abandoned.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/runs/sample.json", "run config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// Decide metrics backend: flag → env → default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		gwURL := pushGatewayURLFlg
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}

		b, err := prompush.NewBackend(cfg.Job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
		} else {
			log.Printf("metrics: url=%v backend=%v job=%v", gwURL, backendName, cfg.Job)
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Printf("metrics: flush error: %v", err)
				}
			}()
		}

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, runErr := pipeline.Run(ctx, cfg)
	if res != nil {
		printResult(res)
	}
	if runErr != nil {
		if res != nil && res.Cancelled {
			log.Printf("run cancelled after %d partitions; partial results above", res.Summary.Partitions)
			os.Exit(130)
		}
		log.Fatalf("%v", runErr)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// printResult writes the final table and the violation summary to stdout.
func printResult(res *pipeline.Result) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for i, c := range res.Table.Columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
	for _, row := range res.Table.Rows {
		for i, v := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, schema.CellString(v))
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	if res.Report.Total() == 0 {
		return
	}
	fmt.Printf("\nviolations: %d\n", res.Report.Total())
	for key, n := range res.Report.Counts() {
		fmt.Printf("  %s/%s: %d\n", key.Column, key.Reason, n)
	}
	for _, v := range res.Report.Samples() {
		fmt.Printf("  sample: partition=%d row=%d column=%s reason=%s value=%q\n",
			v.Partition, v.Row, v.Column, v.Reason, v.Value)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
