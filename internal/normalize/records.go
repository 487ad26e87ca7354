package normalize

import "time"

// Arrival is the canonical record shape after time reconciliation. Records
// only reach this shape with a confirmed actual arrival; services still
// waiting for one live in the missing-arrival ledger instead.
type Arrival struct {
	RunDate            time.Time
	ServiceID          string
	Operator           string
	Origin             string
	Destination        string
	Scheduled          time.Time
	Actual             time.Time
	IsActual           bool
	DelayMinutes       int
	IsPassenger        bool
	WasScheduledToStop bool
	StopStatus         string
}

// Reason classifies why a record was routed to a side-channel ledger
// instead of the normalized output.
type Reason string

const (
	// ReasonMissingActual marks a valid service with no actual arrival
	// yet. Expected and frequent; not an error.
	ReasonMissingActual Reason = "missing_actual"

	// ReasonValidation marks a record with malformed required fields
	// (run date, service id, time strings).
	ReasonValidation Reason = "validation_error"

	// ReasonAmbiguousRollover marks a record whose explicit next-day
	// flag contradicted the midnight-rollover heuristic.
	ReasonAmbiguousRollover Reason = "ambiguous_rollover"

	// ReasonUnresolvedStation marks a record whose origin or destination
	// could not be resolved against the gazetteer. Set by the merger,
	// shares the ledger entry shape.
	ReasonUnresolvedStation Reason = "unresolved_station"
)

// Rejection is one append-only ledger entry: a snapshot of the record
// plus the reason it left the pipeline.
type Rejection struct {
	Reason           Reason
	RunDate          string
	ServiceID        string
	Operator         string
	ScheduledArrival string
	Origin           string
	Destination      string
	Detail           string
}
