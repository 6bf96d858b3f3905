package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	StageSegmentUpload = "segment_upload"
	StageHealthProbe   = "health_probe"
	StageConnect       = "connect"
)

// stageTargets are the p95 budgets the call screen is tuned for.
var stageTargets = map[string]time.Duration{
	StageSegmentUpload: 2500 * time.Millisecond,
	StageHealthProbe:   300 * time.Millisecond,
	StageConnect:       800 * time.Millisecond,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// LatencyWindow keeps the most recent samples per call stage so the control
// API can report percentiles without a Prometheus server.
type LatencyWindow struct {
	size int

	mu     sync.Mutex
	stages map[string]*sampleRing
	counts map[string]int
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{
		size:   size,
		stages: make(map[string]*sampleRing),
		counts: make(map[string]int),
	}
}

func (w *LatencyWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.stages[stage]
	if !ok {
		r = newSampleRing(w.size)
		w.stages[stage] = r
	}
	r.add(d)
}

// Count bumps a named event counter such as a dropped stale reply.
func (w *LatencyWindow) Count(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.counts[name]++
	w.mu.Unlock()
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	snap := LatencySnapshot{GeneratedAt: time.Now().UTC()}
	if w == nil {
		return snap
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	snap.WindowSize = w.size

	for _, stage := range sortedKeys(w.stages) {
		if stats, ok := w.stages[stage].stats(stage); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}
	for _, name := range sortedKeys(w.counts) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.counts[name]})
	}
	return snap
}

func (w *LatencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.stages)
	clear(w.counts)
}

type sampleRing struct {
	buf  []time.Duration
	pos  int
	full bool
	last time.Duration
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{buf: make([]time.Duration, size)}
}

func (r *sampleRing) add(d time.Duration) {
	r.buf[r.pos] = d
	r.last = d
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *sampleRing) samples() []time.Duration {
	n := r.pos
	if r.full {
		n = len(r.buf)
	}
	return slices.Clone(r.buf[:n])
}

func (r *sampleRing) stats(stage string) (StageStats, bool) {
	values := r.samples()
	if len(values) == 0 {
		return StageStats{}, false
	}
	slices.Sort(values)

	target := stageTargets[stage]
	var sum time.Duration
	over := 0
	for _, v := range values {
		sum += v
		if target > 0 && v > target {
			over++
		}
	}
	return StageStats{
		Stage:       stage,
		Samples:     len(values),
		LastMS:      millis(r.last),
		AvgMS:       millis(sum / time.Duration(len(values))),
		P50MS:       millis(percentile(values, 0.50)),
		P95MS:       millis(percentile(values, 0.95)),
		MaxMS:       millis(values[len(values)-1]),
		TargetP95MS: millis(target),
		OverTarget:  over,
	}, true
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, q float64) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[hi]-sorted[lo]))
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
