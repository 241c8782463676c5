package task

import (
	"fmt"
	"sort"
	"sync"
)

// Kind names understood by the reference deployment.
const (
	KindScan     = "scan"
	KindHoneypot = "honeypot"
	KindBytecode = "bytecode"
)

// Spec declares how a task kind is validated and advanced.
type Spec struct {
	// Name is the kind discriminator used at submission
	Name string

	// Topic is the logical channel task updates are published to
	Topic string

	// Validate checks the submission parameters. A nil return means the
	// parameters are acceptable; errors should be *ValidationError.
	Validate func(params map[string]any) error

	// Stages returns the ordered stage labels for the given parameters.
	// Called only after Validate succeeds.
	Stages func(params map[string]any) []string
}

// Kinds is a registry of task kind specs. The zero value is not usable;
// call NewKinds or DefaultKinds.
type Kinds struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewKinds creates an empty kind registry.
func NewKinds() *Kinds {
	return &Kinds{specs: make(map[string]*Spec)}
}

// Register adds or replaces a kind spec.
func (k *Kinds) Register(spec *Spec) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.specs[spec.Name] = spec
}

// Lookup returns the spec for a kind name.
func (k *Kinds) Lookup(name string) (*Spec, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.specs[name]
	return s, ok
}

// Names returns all registered kind names, sorted.
func (k *Kinds) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.specs))
	for name := range k.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultKinds returns the reference kind registry: contract scan,
// honeypot analysis, and bytecode similarity.
func DefaultKinds() *Kinds {
	k := NewKinds()
	k.Register(&Spec{
		Name:     KindScan,
		Topic:    "scanner",
		Validate: validateScan,
		Stages:   scanStages,
	})
	k.Register(&Spec{
		Name:     KindHoneypot,
		Topic:    "honeypot",
		Validate: validateHoneypot,
		Stages:   honeypotStages,
	})
	k.Register(&Spec{
		Name:     KindBytecode,
		Topic:    "bytecode",
		Validate: validateBytecode,
		Stages:   bytecodeStages,
	})
	return k
}

// stringParam extracts a non-empty string parameter.
func stringParam(params map[string]any, field string) (string, *ValidationError) {
	v, ok := params[field]
	if !ok {
		return "", &ValidationError{Field: field, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &ValidationError{Field: field, Reason: "must be a non-empty string"}
	}
	return s, nil
}

// stringSliceParam extracts a non-empty list of strings. JSON decoding
// yields []any, so both representations are accepted.
func stringSliceParam(params map[string]any, field string) ([]string, *ValidationError) {
	v, ok := params[field]
	if !ok {
		return nil, &ValidationError{Field: field, Reason: "required"}
	}
	switch vv := v.(type) {
	case []string:
		if len(vv) == 0 {
			return nil, &ValidationError{Field: field, Reason: "must be a non-empty list"}
		}
		return vv, nil
	case []any:
		if len(vv) == 0 {
			return nil, &ValidationError{Field: field, Reason: "must be a non-empty list"}
		}
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, &ValidationError{Field: field, Reason: "list entries must be non-empty strings"}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: field, Reason: "must be a list of strings"}
	}
}

func validateScan(params map[string]any) error {
	if _, err := stringParam(params, "address"); err != nil {
		return err
	}
	if _, err := stringSliceParam(params, "plugins"); err != nil {
		return err
	}
	return nil
}

// scanStages concatenates each plugin's sub-stages in order, so every
// plugin carries equal weight in the overall progress computation.
func scanStages(params map[string]any) []string {
	plugins, err := stringSliceParam(params, "plugins")
	if err != nil {
		return nil
	}
	stages := make([]string, 0, len(plugins)*3)
	for _, p := range plugins {
		stages = append(stages,
			fmt.Sprintf("%s: loading target", p),
			fmt.Sprintf("%s: running detectors", p),
			fmt.Sprintf("%s: collecting findings", p),
		)
	}
	return stages
}

func validateHoneypot(params map[string]any) error {
	if _, err := stringParam(params, "address"); err != nil {
		return err
	}
	if _, err := stringParam(params, "method"); err != nil {
		return err
	}
	return nil
}

func honeypotStages(params map[string]any) []string {
	method, _ := stringParam(params, "method")
	return []string{
		"fetching contract source",
		"simulating transactions",
		fmt.Sprintf("applying %s heuristics", method),
		"compiling verdict",
	}
}

func validateBytecode(params map[string]any) error {
	if _, err := stringParam(params, "address"); err != nil {
		return err
	}
	if _, err := stringParam(params, "reference"); err != nil {
		return err
	}
	return nil
}

func bytecodeStages(map[string]any) []string {
	return []string{
		"fetching bytecode",
		"normalizing opcodes",
		"computing similarity",
		"ranking matches",
	}
}
