package rtt

// Service is one arrival record as extracted from the timetable API,
// flattened to the fields the pipeline cares about. It is transient: the
// normalizer consumes it immediately and it is never persisted as-is.
type Service struct {
	RunDate            string `json:"run_date" validate:"required,datetime=2006-01-02"`
	ServiceID          string `json:"service_id" validate:"required"`
	Operator           string `json:"operator"`
	ScheduledArrival   string `json:"scheduled_arrival" validate:"required"`
	ActualArrival      string `json:"actual_arrival"`
	IsActual           bool   `json:"is_actual"`
	Origin             string `json:"origin"`
	Destination        string `json:"destination"`
	WasScheduledToStop bool   `json:"was_scheduled_to_stop"`
	StopStatus         string `json:"stop_status"`

	// IsPassenger and NextDayArrival are tri-state: nil means the source
	// did not provide the field. Missing passenger flags default to true
	// during normalization.
	IsPassenger    *bool `json:"is_passenger_train,omitempty"`
	NextDayArrival *bool `json:"next_day_arrival,omitempty"`
}

// Wire format of the timetable API response. Only the fields we read.

type apiResponse struct {
	Services []apiService `json:"services"`
}

type apiService struct {
	ServiceUID     string      `json:"serviceUid"`
	RunDate        string      `json:"runDate"`
	AtocName       string      `json:"atocName"`
	IsPassenger    *bool       `json:"isPassenger,omitempty"`
	LocationDetail apiLocation `json:"locationDetail"`
}

type apiLocation struct {
	CRS                    string     `json:"crs"`
	GBTTBookedArrival      string     `json:"gbttBookedArrival"`
	RealtimeArrival        string     `json:"realtimeArrival"`
	RealtimeArrivalActual  bool       `json:"realtimeArrivalActual"`
	RealtimeArrivalNextDay *bool      `json:"realtimeArrivalNextDay,omitempty"`
	IsCall                 bool       `json:"isCall"`
	DisplayAs              string     `json:"displayAs"`
	Origin                 []apiPlace `json:"origin"`
	Destination            []apiPlace `json:"destination"`
}

type apiPlace struct {
	Description string `json:"description"`
}

func (s apiService) flatten() Service {
	loc := s.LocationDetail

	svc := Service{
		RunDate:            s.RunDate,
		ServiceID:          s.ServiceUID,
		Operator:           s.AtocName,
		ScheduledArrival:   loc.GBTTBookedArrival,
		ActualArrival:      loc.RealtimeArrival,
		IsActual:           loc.RealtimeArrivalActual,
		IsPassenger:        s.IsPassenger,
		Origin:             "UNKNOWN",
		Destination:        "UNKNOWN",
		WasScheduledToStop: loc.IsCall,
		StopStatus:         loc.DisplayAs,
		NextDayArrival:     loc.RealtimeArrivalNextDay,
	}
	if len(loc.Origin) > 0 && loc.Origin[0].Description != "" {
		svc.Origin = loc.Origin[0].Description
	}
	if len(loc.Destination) > 0 && loc.Destination[0].Description != "" {
		svc.Destination = loc.Destination[0].Description
	}
	if svc.StopStatus == "" {
		svc.StopStatus = "UNKNOWN"
	}
	return svc
}
