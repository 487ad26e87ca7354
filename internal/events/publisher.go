// Package events publishes enriched arrival records to NATS for the
// downstream consumers (delay maps, busyness prediction) that subscribe
// instead of polling the store.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"rail_delays/internal/enrich"
)

// Config holds NATS connection settings. An empty URL disables publishing.
type Config struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Publisher publishes enriched arrivals onto a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// ArrivalEvent is the wire shape of one published arrival.
type ArrivalEvent struct {
	RunDate        string    `json:"run_date"`
	ServiceID      string    `json:"service_id"`
	Operator       string    `json:"operator"`
	Origin         string    `json:"origin"`
	OriginCRS      string    `json:"origin_crs"`
	OriginLat      float64   `json:"origin_latitude"`
	OriginLon      float64   `json:"origin_longitude"`
	Destination    string    `json:"destination"`
	DestinationCRS string    `json:"destination_crs"`
	DestinationLat float64   `json:"destination_latitude"`
	DestinationLon float64   `json:"destination_longitude"`
	Scheduled      time.Time `json:"scheduled_arrival"`
	Actual         time.Time `json:"actual_arrival"`
	DelayMinutes   int       `json:"delay_minutes"`
	IsPassenger    bool      `json:"is_passenger_train"`
	StopStatus     string    `json:"stop_status"`
}

// Connect establishes the NATS connection.
func Connect(cfg Config) (*Publisher, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = "rail.arrivals.enriched"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("rail-delays-pipeline"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Publisher{nc: nc, subject: subject}, nil
}

// PublishArrivals publishes one event per enriched arrival and flushes.
func (p *Publisher) PublishArrivals(arrivals []enrich.Arrival) error {
	for _, a := range arrivals {
		ev := ArrivalEvent{
			RunDate:        a.RunDate.Format("2006-01-02"),
			ServiceID:      a.ServiceID,
			Operator:       a.Operator,
			Origin:         a.Origin,
			OriginCRS:      a.OriginCRS,
			OriginLat:      a.OriginLat,
			OriginLon:      a.OriginLon,
			Destination:    a.Destination,
			DestinationCRS: a.DestinationCRS,
			DestinationLat: a.DestinationLat,
			DestinationLon: a.DestinationLon,
			Scheduled:      a.Scheduled,
			Actual:         a.Actual,
			DelayMinutes:   a.DelayMinutes,
			IsPassenger:    a.IsPassenger,
			StopStatus:     a.StopStatus,
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal arrival %s: %w", a.ServiceID, err)
		}
		if err := p.nc.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("publish arrival %s: %w", a.ServiceID, err)
		}
	}
	if err := p.nc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	p.nc.Close()
}
