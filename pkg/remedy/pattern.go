// Package remedy matches deployment failure output against a registry of
// known failure patterns and applies their corrective commands. Every apply
// attempt is persisted with before and after state so operators can audit
// what the tool did to a site.
package remedy

import (
	"fmt"
	"regexp"
	"sync"
	"text/template"
)

// Severity grades how disruptive the underlying failure is. It is advisory:
// severity never changes match order or apply behavior.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Pattern pairs a failure signature with its corrective command. Expression
// is a regular expression matched against failure output; named capture
// groups "module" and "path" feed the command template.
type Pattern struct {
	ID          string   `yaml:"id" validate:"required"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
	Expression  string   `yaml:"expression" validate:"required"`

	// Command is the corrective command template.
	Command string `yaml:"command" validate:"required"`

	// Verify is an optional post-command check template. When present its
	// exit status decides success; the corrective command's own exit status
	// is advisory only.
	Verify string `yaml:"verify"`

	regex      *regexp.Regexp
	cmdTmpl    *template.Template
	verifyTmpl *template.Template
}

// Registry holds patterns in registration order. Matching is deterministic:
// the first registered pattern whose expression matches wins.
type Registry struct {
	mu       sync.RWMutex
	patterns []*Pattern
	byID     map[string]int
	byExpr   map[string]string
}

// NewRegistry creates an empty pattern registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]int),
		byExpr: make(map[string]string),
	}
}

// Register validates and adds a pattern. Re-registering an existing ID
// replaces it in place, keeping its position in the match order. Two
// different IDs with the same expression are rejected: the duplicate could
// never match and its commands would silently never run.
func (r *Registry) Register(p *Pattern) error {
	if p.ID == "" {
		return fmt.Errorf("pattern id is required")
	}
	if p.Expression == "" {
		return fmt.Errorf("pattern %s: expression is required", p.ID)
	}
	if p.Command == "" {
		return fmt.Errorf("pattern %s: command is required", p.ID)
	}
	switch p.Severity {
	case "":
		p.Severity = SeverityMedium
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("pattern %s: unknown severity %q (want low, medium, high, or critical)", p.ID, p.Severity)
	}

	regex, err := regexp.Compile(p.Expression)
	if err != nil {
		return fmt.Errorf("pattern %s: invalid expression: %w", p.ID, err)
	}
	cmdTmpl, err := parseTemplate(p.ID+"/command", p.Command)
	if err != nil {
		return fmt.Errorf("pattern %s: %w", p.ID, err)
	}
	var verifyTmpl *template.Template
	if p.Verify != "" {
		verifyTmpl, err = parseTemplate(p.ID+"/verify", p.Verify)
		if err != nil {
			return fmt.Errorf("pattern %s: %w", p.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byExpr[p.Expression]; ok && owner != p.ID {
		return fmt.Errorf("pattern %s: expression already registered by %s", p.ID, owner)
	}

	p.regex = regex
	p.cmdTmpl = cmdTmpl
	p.verifyTmpl = verifyTmpl

	if idx, ok := r.byID[p.ID]; ok {
		delete(r.byExpr, r.patterns[idx].Expression)
		r.patterns[idx] = p
	} else {
		r.byID[p.ID] = len(r.patterns)
		r.patterns = append(r.patterns, p)
	}
	r.byExpr[p.Expression] = p.ID
	return nil
}

// Patterns returns the patterns in match order.
func (r *Registry) Patterns() []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Get returns a pattern by ID.
func (r *Registry) Get(id string) (*Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.patterns[idx], true
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Replace atomically swaps the registry contents for a new pattern set,
// used by the hot-reloading loader. The new set is validated pattern by
// pattern before the swap; a bad set leaves the registry untouched.
func (r *Registry) Replace(patterns []*Pattern) error {
	staged := NewRegistry()
	for _, p := range patterns {
		if err := staged.Register(p); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = staged.patterns
	r.byID = staged.byID
	r.byExpr = staged.byExpr
	return nil
}

// match applies the pattern's expression and extracts the named groups.
func (p *Pattern) match(output string) (Params, bool) {
	m := p.regex.FindStringSubmatch(output)
	if m == nil {
		return Params{}, false
	}
	params := Params{}
	for i, name := range p.regex.SubexpNames() {
		if i == 0 || i >= len(m) {
			continue
		}
		switch name {
		case "module":
			params.ModuleName = m[i]
		case "path":
			params.Path = m[i]
		}
	}
	return params, true
}
