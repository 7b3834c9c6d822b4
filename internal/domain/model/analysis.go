package model

import "time"

// VehicleCounts holds per-class counts reported by the detection service.
type VehicleCounts struct {
	Cars    int `json:"Cars"`
	Bikes   int `json:"Bikes"`
	Trucks  int `json:"Trucks"`
	Buses   int `json:"Buses"`
	Unknown int `json:"Unknown"`
}

func (c VehicleCounts) Total() int {
	return c.Cars + c.Bikes + c.Trucks + c.Buses + c.Unknown
}

// AnalysisResult is one successful, structured detection answer.
type AnalysisResult struct {
	RequestID       string
	VehiclesPresent bool
	Counts          VehicleCounts
	Raw             string
	Latency         time.Duration
	ReceivedAt      time.Time
}

func (r AnalysisResult) Presence() Presence {
	if r.VehiclesPresent {
		return PresenceTrue
	}
	return PresenceFalse
}
