// Command rail_delays runs the arrival-delay enrichment pipeline.
//
// Usage:
//
//	rail_delays run -config config.yml
//	rail_delays init-db -config config.yml
//
// `run` executes one pipeline pass for the configured station and
// trailing window; `init-db` creates the PostGIS schema, spatial indexes
// and (when configured) the ClickHouse archive table.
//
// Timetable API credentials come from the config file or the
// RTT_USERNAME / RTT_PASSWORD environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"rail_delays/internal/config"
	"rail_delays/internal/events"
	"rail_delays/internal/pipeline"
	"rail_delays/internal/rtt"
	"rail_delays/internal/stations"
	"rail_delays/internal/storage"
)

func usage() {
	fmt.Fprintln(os.Stderr, "rail_delays - arrival delay enrichment pipeline")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run      - run the pipeline for the configured station and window")
	fmt.Fprintln(os.Stderr, "  init-db  - create schemas and spatial indexes in the configured stores")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Both commands take -config PATH (default: config.yml).")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runPipeline(os.Args[2:])
	case "init-db":
		runInitDB(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func loadConfig(args []string, cmd string) *config.Config {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "config.yml", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func runInitDB(args []string) {
	cfg := loadConfig(args, "init-db")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.CreateSchemas(ctx); err != nil {
		log.Fatalf("create schemas: %v", err)
	}
	log.Printf("schemas ready")
}

func runPipeline(args []string) {
	cfg := loadConfig(args, "run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer func() { _ = db.Close() }()

	gaz, err := stations.LoadGazetteer(cfg.GazetteerPath)
	if err != nil {
		log.Fatalf("gazetteer: %v", err)
	}
	log.Printf("gazetteer loaded: %d stations", gaz.Len())

	resolver := stations.NewResolver(gaz, cfg.FuzzyThreshold, cfg.Corrections)
	client := rtt.NewClient(cfg.Source.BaseURL, cfg.Source.Username, cfg.Source.Password,
		time.Duration(cfg.Source.TimeoutSeconds)*time.Second)

	sinks := pipeline.Sinks{Ledger: db.Ledger}
	if db.CH != nil {
		sinks.Archive = db.CH
	}
	if cfg.Events != nil && cfg.Events.URL != "" {
		pub, err := events.Connect(*cfg.Events)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer pub.Close()
		sinks.Events = pub
	}

	p := pipeline.New(client, resolver, db.PG, sinks, pipeline.Options{
		Station:      cfg.Station,
		Days:         cfg.Days,
		Concurrency:  cfg.FetchConcurrency,
		FetchTimeout: time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
		Rollover:     cfg.Rollover(),
	})

	summary, runErr := p.Run(ctx)
	printSummary(summary)

	if runErr != nil {
		log.Fatalf("run %s: %v", summary.State(), runErr)
	}
}

func printSummary(s *pipeline.Summary) {
	log.Printf("run %s for %s: %d/%d days fetched (%d failed)",
		s.State(), s.Station, s.DaysFetched, s.DaysRequested, s.DaysFailed)
	log.Printf("  extracted=%d normalized=%d missing-actual=%d quarantined=%d persisted=%d",
		s.Extracted, s.Normalized, s.MissingActual, s.Quarantined, s.Persisted)

	if len(s.Unresolved) > 0 {
		names := make([]string, 0, len(s.Unresolved))
		for name := range s.Unresolved {
			names = append(names, name)
		}
		sort.Strings(names)
		log.Printf("  unresolved station names (add to corrections?):")
		for _, name := range names {
			log.Printf("    %q x%d", name, s.Unresolved[name])
		}
	}
}
