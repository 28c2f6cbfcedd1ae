package topology

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"hydrotwin/internal/model"
)

// Store loads the topology once, on first access, and caches it for the
// process lifetime. A failed load yields an empty topology, never an error
// to the caller.
type Store struct {
	path   string
	logger *slog.Logger
	once   sync.Once
	topo   *Topology
	err    error
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// NewStaticStore wraps an already built topology.
func NewStaticStore(t *Topology) *Store {
	s := &Store{}
	s.once.Do(func() { s.topo = t })
	return s
}

func (s *Store) Get() *Topology {
	s.once.Do(s.load)
	return s.topo
}

// Err is the load error behind an empty fallback, if any.
func (s *Store) Err() error {
	s.once.Do(s.load)
	return s.err
}

func (s *Store) load() {
	topo, err := Load(s.path)
	if err != nil {
		s.err = fmt.Errorf("%w: %v", model.ErrDegradedTopology, err)
		s.topo = Empty(err.Error())
		if s.logger != nil {
			s.logger.Warn("topology unavailable, using empty network", "path", s.path, "error", err)
		}
		return
	}
	s.topo = topo
	if s.logger != nil {
		s.logger.Info("topology loaded", "path", s.path, "nodes", len(topo.Nodes), "edges", len(topo.Edges), "skipped", topo.Skipped)
	}
}

// Load reads a topology from GraphML (.graphml, .xml) or YAML/JSON.
func Load(path string) (*Topology, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("topology path not configured: %w", model.ErrMissingInput)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("topology %s: %w", path, model.ErrMissingInput)
		}
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".graphml", ".xml":
		return ParseGraphML(data)
	}
	return ParseDocument(data)
}

type document struct {
	Nodes []documentNode `yaml:"nodes"`
	Edges []Edge         `yaml:"edges"`
}

type documentNode struct {
	ID        string   `yaml:"id"`
	Type      NodeType `yaml:"node_type"`
	Name      string   `yaml:"name"`
	Lat       *float64 `yaml:"latitude"`
	Lon       *float64 `yaml:"longitude"`
	Elevation float64  `yaml:"elevation"`
	DemandLPS float64  `yaml:"demand_lps"`
}

// ParseDocument decodes the YAML layout; JSON input parses the same way.
func ParseDocument(data []byte) (*Topology, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	nodes := make([]Node, 0, len(doc.Nodes))
	for _, dn := range doc.Nodes {
		n := Node{ID: dn.ID, Type: NodeType(strings.ToLower(string(dn.Type))), Name: dn.Name, Elevation: dn.Elevation, DemandLPS: dn.DemandLPS}
		if dn.Lat != nil && dn.Lon != nil {
			n.Lat, n.Lon, n.Located = *dn.Lat, *dn.Lon, true
		}
		nodes = append(nodes, n)
	}
	return build(nodes, doc.Edges), nil
}

type graphML struct {
	XMLName xml.Name   `xml:"graphml"`
	Keys    []graphKey `xml:"key"`
	Graph   struct {
		Nodes []graphElem `xml:"node"`
		Edges []graphElem `xml:"edge"`
	} `xml:"graph"`
}

type graphKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
}

type graphElem struct {
	ID     string      `xml:"id,attr"`
	Source string      `xml:"source,attr"`
	Target string      `xml:"target,attr"`
	Data   []graphData `xml:"data"`
}

type graphData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// ParseGraphML decodes the attribute-keyed GraphML emitted by common graph tools.
func ParseGraphML(data []byte) (*Topology, error) {
	var doc graphML
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse graphml: %w", err)
	}
	nodeKeys := map[string]string{}
	edgeKeys := map[string]string{}
	for _, k := range doc.Keys {
		switch k.For {
		case "node":
			nodeKeys[k.ID] = k.Name
		case "edge":
			edgeKeys[k.ID] = k.Name
		default:
			nodeKeys[k.ID] = k.Name
			edgeKeys[k.ID] = k.Name
		}
	}

	nodes := make([]Node, 0, len(doc.Graph.Nodes))
	for _, el := range doc.Graph.Nodes {
		attrs := el.attributes(nodeKeys)
		n := Node{
			ID:        el.ID,
			Type:      NodeType(strings.ToLower(attrs["node_type"])),
			Name:      attrs["name"],
			Elevation: parseFloat(attrs["elevation"]),
			DemandLPS: parseFloat(firstOf(attrs, "demand_lps", "demand")),
		}
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(attrs["latitude"]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(attrs["longitude"]), 64)
		if errLat == nil && errLon == nil {
			n.Lat, n.Lon, n.Located = lat, lon, true
		}
		nodes = append(nodes, n)
	}

	edges := make([]Edge, 0, len(doc.Graph.Edges))
	for _, el := range doc.Graph.Edges {
		attrs := el.attributes(edgeKeys)
		id := firstOf(attrs, "pipe_id")
		if id == "" {
			id = el.ID
		}
		if id == "" {
			id = "PIPE_" + el.Source + "_" + el.Target
		}
		edges = append(edges, Edge{
			ID:         id,
			From:       el.Source,
			To:         el.Target,
			DiameterMM: parseFloat(attrs["diameter"]),
			LengthM:    parseFloat(attrs["length"]),
			Roughness:  parseFloat(attrs["roughness"]),
		})
	}
	return build(nodes, edges), nil
}

func (el graphElem) attributes(keys map[string]string) map[string]string {
	out := make(map[string]string, len(el.Data))
	for _, d := range el.Data {
		name := keys[d.Key]
		if name == "" {
			name = d.Key
		}
		out[name] = strings.TrimSpace(d.Value)
	}
	return out
}

func firstOf(attrs map[string]string, names ...string) string {
	for _, n := range names {
		if v := attrs[n]; v != "" {
			return v
		}
	}
	return ""
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
