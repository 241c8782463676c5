// Package scoring computes terminal result payloads for finished tasks.
// The Scorer interface is the seam between the pipeline engine and the
// actual analysis backends; the demo implementation fabricates plausible
// results from a seeded random source.
package scoring

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Scorer produces the kind-specific result payload once all stages of a
// task have completed. An error marks the task failed; the engine never
// retries.
type Scorer interface {
	Score(ctx context.Context, kind string, params map[string]any) (map[string]any, error)
}

// Severity labels in escalation order, shared by the demo scorers.
var severityLadder = []string{"info", "low", "medium", "high", "critical"}

// Base risk contribution per severity.
var severityScores = map[string]float64{
	"critical": 10.0,
	"high":     7.0,
	"medium":   5.0,
	"low":      3.0,
	"info":     1.0,
}

var findingTitles = []string{
	"reentrancy in withdraw path",
	"unchecked external call",
	"integer truncation in fee math",
	"missing access control on setter",
	"delegatecall to user-controlled target",
	"timestamp dependence in lottery draw",
}

var honeypotIndicators = []string{
	"hidden owner-only transfer hook",
	"balance check mismatch on sell",
	"fee switch mutable post-deploy",
	"blacklist mapping in transfer path",
}

// Demo is a randomized Scorer. Deterministic under a fixed seed.
// Safe for concurrent use.
type Demo struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemo creates a demo scorer seeded for reproducibility.
func NewDemo(seed int64) *Demo {
	return &Demo{rng: rand.New(rand.NewSource(seed))}
}

// Score implements Scorer for the reference kinds.
func (d *Demo) Score(_ context.Context, kind string, params map[string]any) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch kind {
	case "scan":
		return d.scoreScan(params), nil
	case "honeypot":
		return d.scoreHoneypot(params), nil
	case "bytecode":
		return d.scoreBytecode(params), nil
	default:
		return nil, fmt.Errorf("scoring: no scorer for kind %q", kind)
	}
}

func (d *Demo) scoreScan(params map[string]any) map[string]any {
	plugins := pluginList(params)

	// Zero findings is a legitimate outcome.
	findings := make([]map[string]any, 0)
	risk := 0.0
	for _, plugin := range plugins {
		n := d.rng.Intn(3)
		for i := 0; i < n; i++ {
			severity := severityLadder[d.rng.Intn(len(severityLadder))]
			findings = append(findings, map[string]any{
				"detector":   plugin,
				"title":      findingTitles[d.rng.Intn(len(findingTitles))],
				"severity":   severity,
				"confidence": roundTo(0.5+d.rng.Float64()*0.5, 2),
			})
			risk += severityScores[severity]
		}
	}
	if risk > 10 {
		risk = 10
	}

	return map[string]any{
		"address":    params["address"],
		"findings":   findings,
		"risk_score": roundTo(risk, 1),
		"plugins":    plugins,
	}
}

func (d *Demo) scoreHoneypot(params map[string]any) map[string]any {
	isHoneypot := d.rng.Float64() < 0.3

	var indicators []string
	if isHoneypot {
		n := 1 + d.rng.Intn(len(honeypotIndicators)-1)
		indicators = append(indicators, honeypotIndicators[:n]...)
	}

	return map[string]any{
		"address":     params["address"],
		"method":      params["method"],
		"is_honeypot": isHoneypot,
		"confidence":  roundTo(0.6+d.rng.Float64()*0.4, 2),
		"indicators":  indicators,
	}
}

func (d *Demo) scoreBytecode(params map[string]any) map[string]any {
	matches := make([]map[string]any, 0)
	n := d.rng.Intn(4)
	for i := 0; i < n; i++ {
		matches = append(matches, map[string]any{
			"address": fmt.Sprintf("0x%040x", d.rng.Int63()),
			"score":   roundTo(0.5+d.rng.Float64()*0.5, 3),
		})
	}

	return map[string]any{
		"address":    params["address"],
		"reference":  params["reference"],
		"similarity": roundTo(d.rng.Float64(), 3),
		"matches":    matches,
	}
}

func pluginList(params map[string]any) []string {
	switch v := params["plugins"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func roundTo(f float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int(f*scale)) / scale
}
