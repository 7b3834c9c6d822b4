package model

type Phase string

const (
	PhaseAGreen        Phase = "A_GREEN"
	PhaseAYellow       Phase = "A_YELLOW"
	PhaseAllRedBeforeB Phase = "ALL_RED_BEFORE_B"
	PhaseBGreen        Phase = "B_GREEN"
	PhaseBYellow       Phase = "B_YELLOW"
	PhaseAllRedBeforeC Phase = "ALL_RED_BEFORE_C"
	PhaseCGreen        Phase = "C_GREEN"
	PhaseCYellow       Phase = "C_YELLOW"
	PhaseAllRedBeforeD Phase = "ALL_RED_BEFORE_D"
	PhaseDGreen        Phase = "D_GREEN"
	PhaseDYellow       Phase = "D_YELLOW"
	PhaseAllRedBeforeA Phase = "ALL_RED_BEFORE_A"
)

// PhaseKind groups phases by the light shown on the owning direction.
type PhaseKind string

const (
	PhaseKindGreen  PhaseKind = "GREEN"
	PhaseKindYellow PhaseKind = "YELLOW"
	PhaseKindAllRed PhaseKind = "ALL_RED"
)

type phaseInfo struct {
	next      Phase
	owner     Direction
	kind      PhaseKind
	analyzing bool
}

// Cycle lists every phase in signalling order, starting at A_GREEN.
var Cycle = []Phase{
	PhaseAGreen, PhaseAYellow, PhaseAllRedBeforeB,
	PhaseBGreen, PhaseBYellow, PhaseAllRedBeforeC,
	PhaseCGreen, PhaseCYellow, PhaseAllRedBeforeD,
	PhaseDGreen, PhaseDYellow, PhaseAllRedBeforeA,
}

var phases = map[Phase]phaseInfo{
	PhaseAGreen:        {next: PhaseAYellow, owner: DirectionA, kind: PhaseKindGreen, analyzing: true},
	PhaseAYellow:       {next: PhaseAllRedBeforeB, owner: DirectionA, kind: PhaseKindYellow},
	PhaseAllRedBeforeB: {next: PhaseBGreen, owner: DirectionA, kind: PhaseKindAllRed},
	PhaseBGreen:        {next: PhaseBYellow, owner: DirectionB, kind: PhaseKindGreen, analyzing: true},
	PhaseBYellow:       {next: PhaseAllRedBeforeC, owner: DirectionB, kind: PhaseKindYellow, analyzing: true},
	PhaseAllRedBeforeC: {next: PhaseCGreen, owner: DirectionB, kind: PhaseKindAllRed, analyzing: true},
	PhaseCGreen:        {next: PhaseCYellow, owner: DirectionC, kind: PhaseKindGreen, analyzing: true},
	PhaseCYellow:       {next: PhaseAllRedBeforeD, owner: DirectionC, kind: PhaseKindYellow, analyzing: true},
	PhaseAllRedBeforeD: {next: PhaseDGreen, owner: DirectionC, kind: PhaseKindAllRed, analyzing: true},
	PhaseDGreen:        {next: PhaseDYellow, owner: DirectionD, kind: PhaseKindGreen, analyzing: true},
	PhaseDYellow:       {next: PhaseAllRedBeforeA, owner: DirectionD, kind: PhaseKindYellow, analyzing: true},
	PhaseAllRedBeforeA: {next: PhaseAGreen, owner: DirectionD, kind: PhaseKindAllRed, analyzing: true},
}

func (p Phase) String() string {
	return string(p)
}

// Valid reports whether p is one of the twelve cycle phases.
func (p Phase) Valid() bool {
	_, ok := phases[p]
	return ok
}

// Next returns the phase that follows p in the cycle, or "" for an
// unrecognized phase.
func (p Phase) Next() Phase {
	return phases[p].next
}

// Owner returns the direction a phase belongs to. All-red phases belong to
// the direction that just finished, which is also the highlighted one.
func (p Phase) Owner() Direction {
	return phases[p].owner
}

func (p Phase) Kind() PhaseKind {
	return phases[p].kind
}

// AnalysisAllowed reports whether detection requests may run during p.
// Analysis pauses exactly while direction A is clearing.
func (p Phase) AnalysisAllowed() bool {
	return phases[p].analyzing
}

// ControlledByA reports whether p is one of direction A's own phases.
func (p Phase) ControlledByA() bool {
	return p.Valid() && p.Owner() == DirectionA
}
