// Package topology holds the pipe network graph: typed nodes joined by pipes.
// A loaded topology is immutable and shared by every request.
package topology

import (
	"math"
	"sort"

	"hydrotwin/internal/gis"
)

type NodeType string

const (
	NodeReservoir NodeType = "reservoir"
	NodePump      NodeType = "pump"
	NodeTank      NodeType = "tank"
	NodeJunction  NodeType = "junction"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeReservoir, NodePump, NodeTank, NodeJunction:
		return true
	}
	return false
}

type Node struct {
	ID        string   `json:"id" yaml:"id"`
	Type      NodeType `json:"node_type" yaml:"node_type"`
	Name      string   `json:"name,omitempty" yaml:"name,omitempty"`
	Lat       float64  `json:"latitude" yaml:"latitude"`
	Lon       float64  `json:"longitude" yaml:"longitude"`
	Elevation float64  `json:"elevation" yaml:"elevation"`
	DemandLPS float64  `json:"demand_lps,omitempty" yaml:"demand_lps,omitempty"`
	// Located is false when the source carried no coordinates; such nodes are
	// kept in the graph but never drawn.
	Located bool `json:"-" yaml:"-"`
}

type Edge struct {
	ID         string  `json:"pipe_id" yaml:"pipe_id"`
	From       string  `json:"source" yaml:"source"`
	To         string  `json:"target" yaml:"target"`
	DiameterMM float64 `json:"diameter" yaml:"diameter"`
	LengthM    float64 `json:"length" yaml:"length"`
	Roughness  float64 `json:"roughness" yaml:"roughness"`
}

// Touches reports whether id is either endpoint.
func (e Edge) Touches(id string) bool {
	return e.From == id || e.To == id
}

type Topology struct {
	Nodes []Node
	Edges []Edge
	// Reason explains why the topology is empty, if it is.
	Reason string
	// Skipped counts records dropped at load (unknown node references, bad types).
	Skipped int

	index map[string]int
	adj   map[string][]string
}

// Empty returns a valid topology with no nodes or edges.
func Empty(reason string) *Topology {
	t := build(nil, nil)
	t.Reason = reason
	return t
}

// build indexes nodes and drops edges whose endpoints are unknown.
func build(nodes []Node, edges []Edge) *Topology {
	t := &Topology{
		Nodes: make([]Node, 0, len(nodes)),
		Edges: make([]Edge, 0, len(edges)),
		index: make(map[string]int, len(nodes)),
		adj:   make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		if n.ID == "" || !n.Type.Valid() {
			t.Skipped++
			continue
		}
		if _, dup := t.index[n.ID]; dup {
			t.Skipped++
			continue
		}
		t.index[n.ID] = len(t.Nodes)
		t.Nodes = append(t.Nodes, n)
	}
	for _, e := range edges {
		_, okFrom := t.index[e.From]
		_, okTo := t.index[e.To]
		if !okFrom || !okTo {
			t.Skipped++
			continue
		}
		t.Edges = append(t.Edges, e)
		t.adj[e.From] = append(t.adj[e.From], e.To)
		t.adj[e.To] = append(t.adj[e.To], e.From)
	}
	for id := range t.adj {
		sort.Strings(t.adj[id])
	}
	return t
}

func (t *Topology) IsEmpty() bool {
	return t == nil || len(t.Nodes) == 0
}

func (t *Topology) Node(id string) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.Nodes[i], true
}

func (t *Topology) Neighbors(id string) []string {
	return t.adj[id]
}

// Hops is the BFS hop count from origin to every reachable node.
func (t *Topology) Hops(origin string) map[string]int {
	hops := map[string]int{}
	if _, ok := t.index[origin]; !ok {
		return hops
	}
	hops[origin] = 0
	queue := []string{origin}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range t.adj[cur] {
			if _, seen := hops[next]; seen {
				continue
			}
			hops[next] = hops[cur] + 1
			queue = append(queue, next)
		}
	}
	return hops
}

// Nearest returns the located node closest to the coordinate, optionally
// restricted to one node type (empty matches all).
func (t *Topology) Nearest(lat, lon float64, only NodeType) (Node, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, n := range t.Nodes {
		if !n.Located || (only != "" && n.Type != only) {
			continue
		}
		d := gis.Haversine(lat, lon, n.Lat, n.Lon)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Node{}, 0, false
	}
	return t.Nodes[best], bestDist, true
}

// Counts tallies nodes by type.
func (t *Topology) Counts() map[NodeType]int {
	out := map[NodeType]int{}
	for _, n := range t.Nodes {
		out[n.Type]++
	}
	return out
}
