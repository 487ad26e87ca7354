package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rail_delays/internal/enrich"
	"rail_delays/internal/normalize"
	"rail_delays/internal/rtt"
	"rail_delays/internal/stations"
)

const pipelineCSV = `crs,station_name,longitude,latitude
KGX,King's Cross,-0.123,51.530
CBG,Cambridge,0.137,52.194
ELY,Ely,0.267,52.391
`

func testResolver(t *testing.T) *stations.Resolver {
	t.Helper()
	g, err := stations.ReadGazetteer(strings.NewReader(pipelineCSV))
	if err != nil {
		t.Fatalf("ReadGazetteer() error = %v", err)
	}
	return stations.NewResolver(g, stations.DefaultThreshold, nil)
}

// fakeFetcher serves canned services per date, with optional per-date
// failures. Safe for the pipeline's concurrent day fetches.
type fakeFetcher struct {
	mu       sync.Mutex
	services map[string][]rtt.Service
	failures map[string]error
	calls    []string
}

func (f *fakeFetcher) Arrivals(ctx context.Context, station string, date time.Time) ([]rtt.Service, error) {
	key := date.Format("2006-01-02")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	return f.services[key], nil
}

type fakeLoader struct {
	mu      sync.Mutex
	batches [][]enrich.Arrival
	err     error
}

func (l *fakeLoader) LoadBatch(ctx context.Context, batch []enrich.Arrival) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.batches = append(l.batches, batch)
	return nil
}

type fakeLedger struct {
	missing []normalize.Rejection
	dropped []normalize.Rejection
}

func (l *fakeLedger) AppendMissing(ctx context.Context, entries []normalize.Rejection) error {
	l.missing = append(l.missing, entries...)
	return nil
}

func (l *fakeLedger) AppendDropped(ctx context.Context, entries []normalize.Rejection) error {
	l.dropped = append(l.dropped, entries...)
	return nil
}

type fakeArchive struct {
	archived []enrich.Arrival
	err      error
}

func (a *fakeArchive) ArchiveBatch(ctx context.Context, arrivals []enrich.Arrival) error {
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, arrivals...)
	return nil
}

type fakeEvents struct {
	published []enrich.Arrival
}

func (e *fakeEvents) PublishArrivals(arrivals []enrich.Arrival) error {
	e.published = append(e.published, arrivals...)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 29, 12, 0, 0, 0, time.UTC)
}

func service(runDate, id, scheduled, actual string) rtt.Service {
	return rtt.Service{
		RunDate:            runDate,
		ServiceID:          id,
		Operator:           "Great Northern",
		ScheduledArrival:   scheduled,
		ActualArrival:      actual,
		IsActual:           actual != "",
		Origin:             "Cambridge",
		Destination:        "King's Cross",
		WasScheduledToStop: true,
		StopStatus:         "CALL",
	}
}

func TestRunHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{
		services: map[string][]rtt.Service{
			"2025-01-29": {
				service("2025-01-29", "P1", "0805", "0817"),
				service("2025-01-29", "P2", "0900", ""), // missing actual
			},
			"2025-01-28": {
				service("2025-01-28", "P3", "2355", "0010"), // rollover
			},
		},
	}
	loader := &fakeLoader{}
	ledger := &fakeLedger{}
	archive := &fakeArchive{}
	events := &fakeEvents{}

	p := New(fetcher, testResolver(t), loader, Sinks{Ledger: ledger, Archive: archive, Events: events}, Options{
		Station: "KGX",
		Days:    2,
		Now:     fixedNow,
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.State() != "Done" {
		t.Errorf("state = %q, want Done", summary.State())
	}
	if summary.DaysFetched != 2 || summary.DaysFailed != 0 {
		t.Errorf("days = %d fetched / %d failed", summary.DaysFetched, summary.DaysFailed)
	}
	if summary.Extracted != 3 || summary.Normalized != 2 || summary.MissingActual != 1 {
		t.Errorf("extracted=%d normalized=%d missing=%d", summary.Extracted, summary.Normalized, summary.MissingActual)
	}
	if summary.Persisted != 2 {
		t.Errorf("persisted = %d, want 2", summary.Persisted)
	}

	if len(loader.batches) != 1 || len(loader.batches[0]) != 2 {
		t.Fatalf("loader got %d batches", len(loader.batches))
	}
	// Rollover delay computed against the rolled day.
	for _, a := range loader.batches[0] {
		if a.ServiceID == "P3" && a.DelayMinutes != 15 {
			t.Errorf("P3 delay = %d, want 15", a.DelayMinutes)
		}
	}

	if len(ledger.missing) != 1 || ledger.missing[0].ServiceID != "P2" {
		t.Errorf("missing ledger = %+v", ledger.missing)
	}
	if len(archive.archived) != 2 {
		t.Errorf("archived = %d, want 2", len(archive.archived))
	}
	if len(events.published) != 2 {
		t.Errorf("published = %d, want 2", len(events.published))
	}
}

func TestRunSkipsFailedDays(t *testing.T) {
	fetcher := &fakeFetcher{
		services: map[string][]rtt.Service{
			"2025-01-29": {service("2025-01-29", "P1", "0805", "0817")},
		},
		failures: map[string]error{
			"2025-01-28": errors.New("HTTP 500"),
			"2025-01-27": errors.New("timeout"),
		},
	}
	loader := &fakeLoader{}

	p := New(fetcher, testResolver(t), loader, Sinks{}, Options{
		Station: "KGX",
		Days:    3,
		Now:     fixedNow,
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.DaysFetched != 1 || summary.DaysFailed != 2 {
		t.Errorf("days = %d fetched / %d failed, want 1/2", summary.DaysFetched, summary.DaysFailed)
	}
	if summary.Persisted != 1 {
		t.Errorf("persisted = %d, want 1", summary.Persisted)
	}
}

func TestRunFailsWhenNoDayUsable(t *testing.T) {
	fetcher := &fakeFetcher{
		failures: map[string]error{
			"2025-01-29": errors.New("HTTP 500"),
			"2025-01-28": errors.New("HTTP 500"),
		},
	}
	loader := &fakeLoader{}

	p := New(fetcher, testResolver(t), loader, Sinks{}, Options{
		Station: "KGX",
		Days:    2,
		Now:     fixedNow,
	})

	summary, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded with zero usable days")
	}
	if summary.State() != "Failed(Extracting)" {
		t.Errorf("state = %q, want Failed(Extracting)", summary.State())
	}
	if len(loader.batches) != 0 {
		t.Errorf("loader called despite extraction failure")
	}
}

func TestRunFailsOnLoadError(t *testing.T) {
	fetcher := &fakeFetcher{
		services: map[string][]rtt.Service{
			"2025-01-29": {service("2025-01-29", "P1", "0805", "0817")},
		},
	}
	loadErr := errors.New("connection reset")
	loader := &fakeLoader{err: loadErr}
	ledger := &fakeLedger{}

	p := New(fetcher, testResolver(t), loader, Sinks{Ledger: ledger}, Options{
		Station: "KGX",
		Days:    1,
		Now:     fixedNow,
	})

	summary, err := p.Run(context.Background())
	if !errors.Is(err, loadErr) {
		t.Fatalf("Run() error = %v, want wrapped %v", err, loadErr)
	}
	if summary.State() != "Failed(Loading)" {
		t.Errorf("state = %q, want Failed(Loading)", summary.State())
	}
	if summary.Persisted != 0 {
		t.Errorf("persisted = %d, want 0", summary.Persisted)
	}
	// Enriched output survives a failed load for inspection.
	if len(summary.Enriched) != 1 {
		t.Errorf("enriched = %d, want 1 preserved", len(summary.Enriched))
	}
	// Ledger sinks run only after a committed load.
	if len(ledger.missing) != 0 || len(ledger.dropped) != 0 {
		t.Errorf("ledger written despite failed load")
	}
}

func TestRunQuarantinesUnresolvedStations(t *testing.T) {
	bad := service("2025-01-29", "P2", "0900", "0905")
	bad.Destination = "Zzqqtown"

	fetcher := &fakeFetcher{
		services: map[string][]rtt.Service{
			"2025-01-29": {service("2025-01-29", "P1", "0805", "0817"), bad},
		},
	}
	loader := &fakeLoader{}
	ledger := &fakeLedger{}

	p := New(fetcher, testResolver(t), loader, Sinks{Ledger: ledger}, Options{
		Station: "KGX",
		Days:    1,
		Now:     fixedNow,
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Quarantined != 1 || summary.Persisted != 1 {
		t.Errorf("quarantined=%d persisted=%d, want 1/1", summary.Quarantined, summary.Persisted)
	}
	if summary.Unresolved["Zzqqtown"] != 1 {
		t.Errorf("unresolved = %+v", summary.Unresolved)
	}
	if len(ledger.dropped) != 1 || ledger.dropped[0].Reason != normalize.ReasonUnresolvedStation {
		t.Errorf("dropped ledger = %+v", ledger.dropped)
	}
}

func TestRunSinkFailureDoesNotFailRun(t *testing.T) {
	fetcher := &fakeFetcher{
		services: map[string][]rtt.Service{
			"2025-01-29": {service("2025-01-29", "P1", "0805", "0817")},
		},
	}
	loader := &fakeLoader{}
	archive := &fakeArchive{err: errors.New("clickhouse down")}

	p := New(fetcher, testResolver(t), loader, Sinks{Archive: archive}, Options{
		Station: "KGX",
		Days:    1,
		Now:     fixedNow,
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, sink failures must not fail the run", err)
	}
	if summary.State() != "Done" {
		t.Errorf("state = %q, want Done", summary.State())
	}
}

func TestRunTrailingWindowDates(t *testing.T) {
	fetcher := &fakeFetcher{
		services: map[string][]rtt.Service{
			"2025-01-29": {service("2025-01-29", "P1", "0805", "0817")},
		},
	}

	p := New(fetcher, testResolver(t), &fakeLoader{}, Sinks{}, Options{
		Station: "KGX",
		Days:    3,
		Now:     fixedNow,
	})

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := map[string]bool{"2025-01-29": true, "2025-01-28": true, "2025-01-27": true}
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.calls) != 3 {
		t.Fatalf("fetch calls = %v, want 3 days", fetcher.calls)
	}
	for _, d := range fetcher.calls {
		if !want[d] {
			t.Errorf("unexpected fetch date %s", d)
		}
	}
}
