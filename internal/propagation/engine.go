// Package propagation spreads a suspected leak across the pipe network and
// renders the annotated graph as GeoJSON features.
package propagation

import (
	"math"
	"strings"

	"hydrotwin/internal/model"
	"hydrotwin/internal/topology"
)

const (
	StrategyFixed   = "fixed"
	StrategyNearest = "nearest"
)

type FlowSimulator interface {
	Simulate(powerKW float64, leakMode bool) model.FlowResult
}

type TopologySource interface {
	Get() *topology.Topology
}

type Options struct {
	LeakNodeID    string
	Strategy      string
	NormalPowerKW float64
	LeakPowerKW   float64
	LeakLocation  model.LeakLocation
}

func DefaultOptions() Options {
	return Options{LeakNodeID: "J5", Strategy: StrategyFixed, NormalPowerKW: 45, LeakPowerKW: 75}
}

type Meta struct {
	Available     bool    `json:"available"`
	Reason        string  `json:"reason,omitempty"`
	LeakMode      bool    `json:"leak_mode"`
	LeakNodeID    string  `json:"leak_node_id,omitempty"`
	NodeCount     int     `json:"node_count"`
	EdgeCount     int     `json:"edge_count"`
	SkippedNodes  int     `json:"skipped_nodes,omitempty"`
	SkippedEdges  int     `json:"skipped_edges,omitempty"`
	CriticalEdges int     `json:"critical_edges"`
	BaseFlowLPM   int     `json:"base_flow_lpm"`
	Efficiency    float64 `json:"efficiency"`
	TankLevelM    float64 `json:"tank_level_m"`
}

type Geometry struct {
	Nodes []model.Feature `json:"nodes"`
	Edges []model.Feature `json:"edges"`
	Meta  Meta            `json:"meta"`
}

type Engine struct {
	topo TopologySource
	sim  FlowSimulator
	opts Options
}

func New(topo TopologySource, sim FlowSimulator, opts Options) *Engine {
	def := DefaultOptions()
	if opts.NormalPowerKW <= 0 {
		opts.NormalPowerKW = def.NormalPowerKW
	}
	if opts.LeakPowerKW <= 0 {
		opts.LeakPowerKW = def.LeakPowerKW
	}
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	return &Engine{topo: topo, sim: sim, opts: opts}
}

func (e *Engine) Topology() *topology.Topology {
	if e == nil || e.topo == nil {
		return nil
	}
	return e.topo.Get()
}

// LeakNode resolves the leak node for topo. The nearest strategy falls back
// to the fixed id when no junction carries coordinates.
func (e *Engine) LeakNode(topo *topology.Topology) string {
	if strings.EqualFold(e.opts.Strategy, StrategyNearest) && !topo.IsEmpty() {
		loc := e.opts.LeakLocation
		if n, _, ok := topo.Nearest(loc.Lat, loc.Lon, topology.NodeJunction); ok {
			return n.ID
		}
	}
	return e.opts.LeakNodeID
}

// Geometry annotates every node and pipe for the given leak mode. The tank is
// advanced by exactly one simulator step per call with a non-empty topology.
func (e *Engine) Geometry(leakMode bool) Geometry {
	topo := e.topo.Get()
	out := Geometry{Nodes: []model.Feature{}, Edges: []model.Feature{}, Meta: Meta{LeakMode: leakMode}}
	if topo.IsEmpty() {
		out.Meta.Reason = "topology unavailable"
		if topo != nil && topo.Reason != "" {
			out.Meta.Reason = topo.Reason
		}
		return out
	}

	power := e.opts.NormalPowerKW
	if leakMode {
		power = e.opts.LeakPowerKW
	}
	base := e.sim.Simulate(power, leakMode)
	leakNode := e.LeakNode(topo)
	hops := topo.Hops(leakNode)

	for _, n := range topo.Nodes {
		if !n.Located {
			out.Meta.SkippedNodes++
			continue
		}
		out.Nodes = append(out.Nodes, nodeFeature(n, leakMode, leakNode, hops))
	}

	for _, edge := range topo.Edges {
		from, okFrom := topo.Node(edge.From)
		to, okTo := topo.Node(edge.To)
		if !okFrom || !okTo || !from.Located || !to.Located {
			out.Meta.SkippedEdges++
			continue
		}
		st := ClassifyEdge(edge, leakMode, leakNode)
		if st.Status == StatusCritical {
			out.Meta.CriticalEdges++
		}
		out.Edges = append(out.Edges, model.LineFeature(
			[2]float64{from.Lon, from.Lat},
			[2]float64{to.Lon, to.Lat},
			map[string]any{
				"pipe_id":           edge.ID,
				"source":            edge.From,
				"target":            edge.To,
				"diameter_mm":       edge.DiameterMM,
				"length_m":          edge.LengthM,
				"roughness":         edge.Roughness,
				"pipe_class":        string(st.Class),
				"status":            string(st.Status),
				"pressure_loss_pct": round(st.PressureLoss*100, 1),
				"flow_velocity":     st.FlowVelocity,
				"flow_lpm":          EdgeFlowLPM(base.FlowLPM, st),
				"color":             statusColors[st.Status],
				"width":             classWidths[st.Class],
			},
		))
	}

	out.Meta.Available = true
	out.Meta.LeakNodeID = leakNode
	out.Meta.NodeCount = len(out.Nodes)
	out.Meta.EdgeCount = len(out.Edges)
	out.Meta.BaseFlowLPM = base.FlowLPM
	out.Meta.Efficiency = round(base.Efficiency, 2)
	out.Meta.TankLevelM = round(base.TankLevelM, 2)
	return out
}

func nodeFeature(n topology.Node, leakMode bool, leakNode string, hops map[string]int) model.Feature {
	style, isLeak := styleFor(n, leakMode, leakNode)
	props := map[string]any{
		"id":        n.ID,
		"node_type": string(n.Type),
		"elevation": n.Elevation,
		"color":     style.Color,
		"icon":      style.Icon,
		"radius":    style.Radius,
		"is_leak":   isLeak,
	}
	if n.Name != "" {
		props["name"] = n.Name
	}
	if n.Type == topology.NodeJunction {
		props["demand_lps"] = round(n.DemandLPS, 2)
	}
	if h, ok := hops[n.ID]; ok {
		props["hops_from_leak"] = h
	}
	return model.PointFeature(n.Lon, n.Lat, props)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
