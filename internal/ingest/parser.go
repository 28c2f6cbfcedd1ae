package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"

	"hydrotwin/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reClock     = regexp.MustCompile(`^\s*([0-9]{1,2}:[0-9]{2}(:[0-9]{2})?)\b`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,]+)`)
)

// positional column order of the energy export when no header was seen
var csvColumns = []string{"timestamp", "power_kw", "leak_spike_kw", "voltage_v", "current_a", "frequency_hz", "power_factor"}

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine accepts JSON objects, CSV rows and key=value text. A nil result
// with a nil error means the line carried no reading (blank or a CSV header).
func (p *Parser) ParseLine(line string) (*normalize.ReadingFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := parseJSON(trim); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseJSON(line string) (*normalize.ReadingFields, error) {
	return ParseJSONBytes([]byte(line))
}

func parsePlain(line string) (*normalize.ReadingFields, error) {
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	for k, v := range kv {
		assignField(fields, k, v)
	}
	if fields.StationID == "" && rest != "" {
		tokens := strings.Fields(rest)
		if len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.StationID = tokens[0]
		}
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	for _, re := range []*regexp.Regexp{reTimestamp, reClock} {
		m := re.FindStringSubmatchIndex(line)
		if len(m) >= 4 {
			return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
		}
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees; safe for concurrent use.
type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.ReadingFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		p.mu.Unlock()
		return nil, nil
	}
	header := p.header
	p.mu.Unlock()
	if header == nil {
		header = csvColumns
	}
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	for i, name := range header {
		if i >= len(record) {
			break
		}
		assignField(fields, name, record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "timestamp", "time", "ts", "power_kw", "power", "station_id", "voltage_v", "current_a":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.ReadingFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "station_id", "station", "pump", "pump_id":
		fields.StationID = value
	case "power_kw", "power", "kw":
		fields.PowerKW = value
	case "leak_spike_kw", "leak_spike":
		fields.LeakSpikeKW = value
	case "voltage_v", "voltage", "v":
		fields.VoltageV = value
	case "current_a", "current", "a":
		fields.CurrentA = value
	case "frequency_hz", "frequency", "hz":
		fields.FrequencyHz = value
	case "power_factor", "pf":
		fields.PowerFactor = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}
