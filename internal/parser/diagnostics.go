package parser

import (
	"encoding/json"
	"maps"
)

// Diagnostics accompanies every extraction result. Counters describe how
// complete the extraction was; notes carry the few non-counter facts
// (flags, provenance) a caller needs to judge the page.
type Diagnostics struct {
	Parser   string
	counters map[string]int
	notes    map[string]any
}

// NewDiagnostics returns diagnostics with the named counters present at zero,
// so they are reported even when nothing increments them.
func NewDiagnostics(parser string, counters ...string) *Diagnostics {
	d := &Diagnostics{
		Parser:   parser,
		counters: make(map[string]int, len(counters)),
		notes:    make(map[string]any),
	}
	for _, name := range counters {
		d.counters[name] = 0
	}
	return d
}

func (d *Diagnostics) Inc(name string) {
	d.counters[name]++
}

// Set overwrites a counter. Negative values are clamped to zero.
func (d *Diagnostics) Set(name string, value int) {
	if value < 0 {
		value = 0
	}
	d.counters[name] = value
}

// Count returns the counter value, zero when it was never touched.
func (d *Diagnostics) Count(name string) int {
	return d.counters[name]
}

// Track increments missing_<field> when present is false.
func (d *Diagnostics) Track(field string, present bool) {
	if !present {
		d.Inc("missing_" + field)
	}
}

// Note records a non-counter annotation.
func (d *Diagnostics) Note(key string, value any) {
	d.notes[key] = value
}

// Notes returns the annotation stored under key.
func (d *Diagnostics) Notes(key string) (any, bool) {
	v, ok := d.notes[key]
	return v, ok
}

// Counters returns a copy of all counters.
func (d *Diagnostics) Counters() map[string]int {
	return maps.Clone(d.counters)
}

// Merge folds other's counters and notes into d. Counters with the same
// name are summed.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	for k, v := range other.counters {
		d.counters[k] += v
	}
	for k, v := range other.notes {
		d.notes[k] = v
	}
}

// Map flattens the diagnostics into a single object: parser name, counters
// and notes side by side.
func (d *Diagnostics) Map() map[string]any {
	out := make(map[string]any, len(d.counters)+len(d.notes)+1)
	for k, v := range d.notes {
		out[k] = v
	}
	for k, v := range d.counters {
		out[k] = v
	}
	if d.Parser != "" {
		out["parser"] = d.Parser
	}
	return out
}

func (d *Diagnostics) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}
