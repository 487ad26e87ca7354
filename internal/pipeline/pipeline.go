// Package pipeline drives the delay-normalization and geospatial
// enrichment pipeline end to end for one station over a trailing window
// of days: extract, normalize, resolve/merge, load, plus the post-commit
// side channels.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"rail_delays/internal/enrich"
	"rail_delays/internal/normalize"
	"rail_delays/internal/rtt"
	"rail_delays/internal/stations"
)

// Stage identifies a pipeline stage, for progress and failure reporting.
type Stage string

const (
	StageExtracting  Stage = "Extracting"
	StageNormalizing Stage = "Normalizing"
	StageMerging     Stage = "Merging"
	StageLoading     Stage = "Loading"
	StageDone        Stage = "Done"
)

// Fetcher fetches raw arrival records for a station and date.
// *rtt.Client implements it.
type Fetcher interface {
	Arrivals(ctx context.Context, station string, date time.Time) ([]rtt.Service, error)
}

// Loader persists one batch of enriched arrivals transactionally.
// *storage.PostgresDB implements it.
type Loader interface {
	LoadBatch(ctx context.Context, batch []enrich.Arrival) error
}

// LedgerSink receives the append-only side-channel records.
// *storage.LedgerDB implements it.
type LedgerSink interface {
	AppendMissing(ctx context.Context, entries []normalize.Rejection) error
	AppendDropped(ctx context.Context, entries []normalize.Rejection) error
}

// ArchiveSink receives enriched arrivals for analytics.
// *storage.ClickHouseDB implements it.
type ArchiveSink interface {
	ArchiveBatch(ctx context.Context, arrivals []enrich.Arrival) error
}

// EventSink publishes enriched arrivals for subscribers.
// *events.Publisher implements it.
type EventSink interface {
	PublishArrivals(arrivals []enrich.Arrival) error
}

// Sinks are optional post-commit outputs. A nil field disables that sink.
// Sink failures are logged and counted but never fail a committed run.
type Sinks struct {
	Ledger  LedgerSink
	Archive ArchiveSink
	Events  EventSink
}

// Options configures one pipeline run.
type Options struct {
	Station      string
	Days         int
	Concurrency  int           // bounded parallelism for day fetches
	FetchTimeout time.Duration // per-request timeout
	Rollover     normalize.RolloverMode

	// Now is the clock used to anchor the trailing window.
	// Defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Summary is returned from every run, including failed ones: counts for
// each stage plus the in-memory results preserved for inspection.
type Summary struct {
	Station       string
	DaysRequested int
	DaysFetched   int
	DaysFailed    int

	Extracted     int
	Normalized    int
	MissingActual int
	Quarantined   int
	Persisted     int

	// Unresolved counts failed resolutions per distinct display name,
	// feeding curation of the correction table.
	Unresolved map[string]int

	// Ledgers and enriched output are kept in memory even when loading
	// fails, so a Failed(Loading) run can still be inspected.
	Missing  []normalize.Rejection
	Dropped  []normalize.Rejection
	Enriched []enrich.Arrival

	FinalStage  Stage
	FailedStage Stage // empty unless the run failed
	Err         error
}

// State renders the terminal state, e.g. "Done" or "Failed(Loading)".
func (s *Summary) State() string {
	if s.FailedStage != "" {
		return fmt.Sprintf("Failed(%s)", s.FailedStage)
	}
	return string(s.FinalStage)
}

// Pipeline wires the stages together.
type Pipeline struct {
	fetcher  Fetcher
	resolver *stations.Resolver
	merger   *enrich.Merger
	loader   Loader
	sinks    Sinks
	opts     Options
}

// New builds a pipeline. fetcher, resolver and loader are required;
// sinks may be zero.
func New(fetcher Fetcher, resolver *stations.Resolver, loader Loader, sinks Sinks, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		fetcher:  fetcher,
		resolver: resolver,
		merger:   enrich.NewMerger(resolver),
		loader:   loader,
		sinks:    sinks,
		opts:     opts,
	}
}

// Run executes the pipeline once. It always returns a summary; the error
// mirrors Summary.Err for callers that only care about success.
//
// Record-level problems (missing actuals, validation failures, unresolved
// stations) never fail the run; they land in ledgers. The run fails only
// when no day yields data or the batch load aborts.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		Station:       p.opts.Station,
		DaysRequested: p.opts.Days,
	}

	// Extract each day independently with bounded parallelism. One bad
	// day is skipped, not fatal.
	raw := p.extract(ctx, summary)
	if summary.DaysFetched == 0 {
		return fail(summary, StageExtracting, fmt.Errorf("no usable data for %s in any of %d days", p.opts.Station, p.opts.Days))
	}
	summary.Extracted = len(raw)

	// Normalize the aggregate set.
	var arrivals []normalize.Arrival
	for _, svc := range raw {
		arrival, rejection := normalize.Normalize(svc, p.opts.Rollover)
		if rejection != nil {
			if rejection.Reason == normalize.ReasonMissingActual {
				summary.MissingActual++
				summary.Missing = append(summary.Missing, *rejection)
			} else {
				summary.Dropped = append(summary.Dropped, *rejection)
			}
			continue
		}
		arrivals = append(arrivals, *arrival)
	}
	summary.Normalized = len(arrivals)

	// Resolve and merge coordinates; quarantine incomplete records.
	for _, a := range arrivals {
		enriched, rejection := p.merger.Merge(a)
		if rejection != nil {
			summary.Quarantined++
			summary.Dropped = append(summary.Dropped, *rejection)
			continue
		}
		summary.Enriched = append(summary.Enriched, *enriched)
	}
	summary.Unresolved = p.resolver.UnresolvedCounts()

	// Load the whole run as one transaction.
	if err := p.loader.LoadBatch(ctx, summary.Enriched); err != nil {
		return fail(summary, StageLoading, err)
	}
	summary.Persisted = len(summary.Enriched)

	p.drainSinks(ctx, summary)

	summary.FinalStage = StageDone
	return summary, nil
}

func fail(s *Summary, stage Stage, err error) (*Summary, error) {
	s.FailedStage = stage
	s.Err = err
	return s, err
}

type dayResult struct {
	services []rtt.Service
	err      error
}

// extract fetches each day of the trailing window concurrently, bounded
// by a weighted semaphore so the rate-sensitive source is not hammered.
// Cancellation stops issuing new fetches; in-flight requests resolve or
// time out on their own.
func (p *Pipeline) extract(ctx context.Context, summary *Summary) []rtt.Service {
	today := p.opts.Now()
	results := make([]dayResult, p.opts.Days)

	sem := semaphore.NewWeighted(int64(p.opts.Concurrency))
	var wg sync.WaitGroup

	for i := 0; i < p.opts.Days; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: stop issuing further fetches.
			results[i] = dayResult{err: err}
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)

			date := today.AddDate(0, 0, -i)
			fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
			defer cancel()

			services, err := p.fetcher.Arrivals(fetchCtx, p.opts.Station, date)
			results[i] = dayResult{services: services, err: err}
		}(i)
	}
	wg.Wait()

	var all []rtt.Service
	for i, res := range results {
		if res.err != nil {
			summary.DaysFailed++
			log.Printf("skip day %s: %v", today.AddDate(0, 0, -i).Format("2006-01-02"), res.err)
			continue
		}
		summary.DaysFetched++
		all = append(all, res.services...)
	}
	return all
}

// drainSinks writes ledgers, archive and events after a successful load.
// The batch is already committed; sink trouble is reported, not fatal.
func (p *Pipeline) drainSinks(ctx context.Context, summary *Summary) {
	if p.sinks.Ledger != nil {
		if err := p.sinks.Ledger.AppendMissing(ctx, summary.Missing); err != nil {
			log.Printf("missing-arrival ledger: %v", err)
		}
		if err := p.sinks.Ledger.AppendDropped(ctx, summary.Dropped); err != nil {
			log.Printf("dropped-record ledger: %v", err)
		}
	}
	if p.sinks.Archive != nil {
		if err := p.sinks.Archive.ArchiveBatch(ctx, summary.Enriched); err != nil {
			log.Printf("arrivals archive: %v", err)
		}
	}
	if p.sinks.Events != nil {
		if err := p.sinks.Events.PublishArrivals(summary.Enriched); err != nil {
			log.Printf("publish arrivals: %v", err)
		}
	}
}
