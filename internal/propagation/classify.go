package propagation

import (
	"math"

	"hydrotwin/internal/topology"
)

type PipeClass string

const (
	PipeMain         PipeClass = "MAIN"
	PipeSecondary    PipeClass = "SECONDARY"
	PipeDistribution PipeClass = "DISTRIBUTION"
)

const (
	mainDiameterMM      = 400.0
	secondaryDiameterMM = 200.0
)

func PipeClassOf(diameterMM float64) PipeClass {
	switch {
	case diameterMM >= mainDiameterMM:
		return PipeMain
	case diameterMM >= secondaryDiameterMM:
		return PipeSecondary
	}
	return PipeDistribution
}

type Status string

const (
	StatusNormal   Status = "NORMAL"
	StatusReduced  Status = "REDUCED"
	StatusCritical Status = "CRITICAL"
)

// EdgeState is the request-scoped hydraulic annotation of one pipe.
type EdgeState struct {
	Class        PipeClass
	Status       Status
	PressureLoss float64
	FlowVelocity float64
}

// ClassifyEdge applies the single-pass leak rules: pipes touching the leak node
// go critical, every other pipe loses pressure inversely to its diameter.
func ClassifyEdge(e topology.Edge, leakMode bool, leakNodeID string) EdgeState {
	st := EdgeState{Class: PipeClassOf(e.DiameterMM)}
	switch {
	case leakMode && leakNodeID != "" && e.Touches(leakNodeID):
		st.Status = StatusCritical
		st.PressureLoss = 0.8
		st.FlowVelocity = 0.2
	case leakMode:
		st.Status = StatusReduced
		st.PressureLoss = 0.15 + 0.1*(1-e.DiameterMM/500)
		st.FlowVelocity = 0.7
	default:
		st.Status = StatusNormal
		st.PressureLoss = 0
		st.FlowVelocity = 1.0
	}
	return st
}

// EdgeFlowLPM discounts the shared baseline by the pipe's pressure loss.
func EdgeFlowLPM(baseFlowLPM int, st EdgeState) int {
	return int(math.Round(float64(baseFlowLPM) * (1 - st.PressureLoss)))
}

type nodeStyle struct {
	Color  [3]int
	Icon   string
	Radius int
}

var nodeStyles = map[topology.NodeType]nodeStyle{
	topology.NodeReservoir: {Color: [3]int{30, 90, 220}, Icon: "reservoir", Radius: 14},
	topology.NodePump:      {Color: [3]int{255, 165, 0}, Icon: "pump", Radius: 12},
	topology.NodeTank:      {Color: [3]int{0, 255, 255}, Icon: "tank", Radius: 12},
	topology.NodeJunction:  {Color: [3]int{0, 200, 83}, Icon: "junction", Radius: 6},
}

var leakStyle = nodeStyle{Color: [3]int{255, 0, 0}, Icon: "leak", Radius: 16}

// styleFor is fixed per type; only a junction can take the leak style.
func styleFor(n topology.Node, leakMode bool, leakNodeID string) (nodeStyle, bool) {
	if leakMode && n.Type == topology.NodeJunction && n.ID == leakNodeID {
		return leakStyle, true
	}
	return nodeStyles[n.Type], false
}

var statusColors = map[Status][3]int{
	StatusNormal:   {0, 150, 255},
	StatusReduced:  {255, 200, 0},
	StatusCritical: {255, 0, 0},
}

var classWidths = map[PipeClass]int{
	PipeMain:         6,
	PipeSecondary:    4,
	PipeDistribution: 2,
}
