package model

import "strings"

type Direction string

const (
	DirectionA Direction = "A"
	DirectionB Direction = "B"
	DirectionC Direction = "C"
	DirectionD Direction = "D"
)

// Directions lists every approach in display order.
var Directions = []Direction{DirectionA, DirectionB, DirectionC, DirectionD}

func (d Direction) String() string {
	return string(d)
}

type Color string

const (
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
)

// Mode selects how direction A's green phase is governed.
type Mode string

const (
	ModeTimer Mode = "timer"
	ModeSmart Mode = "smart"
)

func (m Mode) String() string {
	return string(m)
}

func (m Mode) IsSmart() bool {
	return m == ModeSmart
}

// Halo is the indicator shown around direction A while smart mode is active.
type Halo string

const (
	HaloNone  Halo = "none"
	HaloGreen Halo = "green"
	HaloAmber Halo = "amber"
)

// Presence is the tri-state vehicle flag derived from the latest analysis.
type Presence string

const (
	PresenceTrue    Presence = "True"
	PresenceFalse   Presence = "False"
	PresenceUnknown Presence = "Unknown"
)

func (p Presence) String() string {
	return string(p)
}

// ParsePresence accepts "true"/"false" in any case and maps anything else to
// PresenceUnknown.
func ParsePresence(s string) Presence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE":
		return PresenceTrue
	case "FALSE":
		return PresenceFalse
	default:
		return PresenceUnknown
	}
}

// BackendMode names the AI backend the detection service runs against.
type BackendMode string

const (
	BackendStudio BackendMode = "STUDIO"
	BackendVertex BackendMode = "VERTEX"
	BackendNone   BackendMode = "NONE"
)

func (b BackendMode) Available() bool {
	return b == BackendStudio || b == BackendVertex
}

// ParseBackendMode normalizes an AI_BACKEND value; unknown values map to NONE.
func ParseBackendMode(s string) BackendMode {
	switch BackendMode(strings.ToUpper(strings.TrimSpace(s))) {
	case BackendStudio:
		return BackendStudio
	case BackendVertex:
		return BackendVertex
	default:
		return BackendNone
	}
}
