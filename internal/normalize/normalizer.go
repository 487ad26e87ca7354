package normalize

import (
	"time"

	"github.com/go-playground/validator/v10"

	"rail_delays/internal/rtt"
)

var validate = validator.New()

// Normalize validates and shapes one raw service record. Exactly one of
// the return values is non-nil: a canonical Arrival, or a Rejection bound
// for the missing-arrival or diagnostic ledger. Normalize performs no I/O.
func Normalize(raw rtt.Service, mode RolloverMode) (*Arrival, *Rejection) {
	if err := validate.Struct(raw); err != nil {
		return nil, reject(raw, ReasonValidation, err.Error())
	}

	runDate, err := time.Parse("2006-01-02", raw.RunDate)
	if err != nil {
		return nil, reject(raw, ReasonValidation, "run date: "+err.Error())
	}

	rec, err := Reconcile(raw.ScheduledArrival, raw.ActualArrival, runDate, raw.NextDayArrival, mode)
	if err != nil {
		return nil, reject(raw, ReasonValidation, err.Error())
	}
	if rec == nil {
		return nil, reject(raw, ReasonMissingActual, "")
	}
	if rec.Ambiguous {
		return nil, reject(raw, ReasonAmbiguousRollover, "next-day flag contradicts rollover heuristic")
	}

	origin := raw.Origin
	if origin == "" {
		origin = "UNKNOWN"
	}
	destination := raw.Destination
	if destination == "" {
		destination = "UNKNOWN"
	}
	stopStatus := raw.StopStatus
	if stopStatus == "" {
		stopStatus = "UNKNOWN"
	}
	isPassenger := true
	if raw.IsPassenger != nil {
		isPassenger = *raw.IsPassenger
	}

	return &Arrival{
		RunDate:            runDate,
		ServiceID:          raw.ServiceID,
		Operator:           raw.Operator,
		Origin:             origin,
		Destination:        destination,
		Scheduled:          rec.Scheduled,
		Actual:             rec.Actual,
		IsActual:           raw.IsActual,
		DelayMinutes:       rec.DelayMinutes,
		IsPassenger:        isPassenger,
		WasScheduledToStop: raw.WasScheduledToStop,
		StopStatus:         stopStatus,
	}, nil
}

func reject(raw rtt.Service, reason Reason, detail string) *Rejection {
	origin := raw.Origin
	if origin == "" {
		origin = "UNKNOWN"
	}
	destination := raw.Destination
	if destination == "" {
		destination = "UNKNOWN"
	}
	return &Rejection{
		Reason:           reason,
		RunDate:          raw.RunDate,
		ServiceID:        raw.ServiceID,
		Operator:         raw.Operator,
		ScheduledArrival: raw.ScheduledArrival,
		Origin:           origin,
		Destination:      destination,
		Detail:           detail,
	}
}
