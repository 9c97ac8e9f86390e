package registry

import (
	"fmt"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-scenario/runner"
	"github.com/ethereum-optimism/infra/op-scenario/types"
)

// DefaultProfile is selected when no profile is requested and the plan defines it.
const DefaultProfile = "default"

// Plan is the YAML run plan. It selects scenarios by label and overrides their
// scheduling attributes.
//
//	profiles:
//	  - id: smoke
//	    include: [smoke]
//	    exclude: [slow]
//	    overrides:
//	      - match: "Deposits/*"
//	        priority: high
//	        exclusive: true
//	  - id: nightly
//	    inherits: [smoke]
//	    include: [nightly]
type Plan struct {
	Profiles []Profile `yaml:"profiles"`
}

// Profile is one named selection of scenarios.
type Profile struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description,omitempty"`
	Inherits    []string   `yaml:"inherits,omitempty"`
	Include     []string   `yaml:"include,omitempty"`
	Exclude     []string   `yaml:"exclude,omitempty"`
	Overrides   []Override `yaml:"overrides,omitempty"`
}

// Override changes the scheduling attributes of every scenario whose "Feature/Scenario"
// ID matches the glob. Unset fields keep the registered value.
type Override struct {
	Match     string          `yaml:"match"`
	Priority  *types.Priority `yaml:"priority,omitempty"`
	Exclusive *bool           `yaml:"exclusive,omitempty"`
	Dedicated *bool           `yaml:"dedicated,omitempty"`
}

// LoadPlan reads and validates a run plan file.
func LoadPlan(path string) (*Plan, error) {
	log.Debug("Reading run plan", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan parses and validates a run plan.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing run plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) validate() error {
	profiles := make(map[string]Profile, len(p.Profiles))
	for _, prof := range p.Profiles {
		if prof.ID == "" {
			return fmt.Errorf("profile without id")
		}
		if _, dup := profiles[prof.ID]; dup {
			return fmt.Errorf("duplicate profile %s", prof.ID)
		}
		for _, o := range prof.Overrides {
			if o.Match == "" {
				return fmt.Errorf("profile %s: override without match pattern", prof.ID)
			}
			if !doublestar.ValidatePattern(o.Match) {
				return fmt.Errorf("profile %s: invalid match pattern %q", prof.ID, o.Match)
			}
		}
		profiles[prof.ID] = prof
	}

	for _, prof := range p.Profiles {
		if err := checkCircularInheritance(prof.ID, prof.Inherits, profiles, make(map[string]bool)); err != nil {
			return fmt.Errorf("invalid profile inheritance: %w", err)
		}
	}
	return nil
}

// checkCircularInheritance detects cycles and dangling references in profile inheritance.
func checkCircularInheritance(currentID string, inherits []string, profiles map[string]Profile, visited map[string]bool) error {
	if visited[currentID] {
		return fmt.Errorf("circular inheritance detected at profile %s", currentID)
	}

	visited[currentID] = true
	defer delete(visited, currentID)

	for _, inheritedID := range inherits {
		inherited, exists := profiles[inheritedID]
		if !exists {
			return fmt.Errorf("profile %s inherits from non-existent profile %s", currentID, inheritedID)
		}
		if err := checkCircularInheritance(inheritedID, inherited.Inherits, profiles, visited); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the profile with its inherited labels and overrides merged in.
// Inherited overrides come first so the profile's own overrides win.
// An empty id selects DefaultProfile when the plan has one, otherwise everything.
func (p *Plan) Resolve(id string) (Profile, error) {
	if p == nil {
		if id != "" {
			return Profile{}, fmt.Errorf("profile %s requested without a run plan", id)
		}
		return Profile{}, nil
	}
	if id == "" {
		if !slices.ContainsFunc(p.Profiles, func(prof Profile) bool { return prof.ID == DefaultProfile }) {
			return Profile{}, nil
		}
		id = DefaultProfile
	}
	profiles := make(map[string]Profile, len(p.Profiles))
	for _, prof := range p.Profiles {
		profiles[prof.ID] = prof
	}
	if _, ok := profiles[id]; !ok {
		return Profile{}, fmt.Errorf("unknown profile %s", id)
	}
	return merge(id, profiles, make(map[string]bool)), nil
}

func merge(id string, profiles map[string]Profile, seen map[string]bool) Profile {
	prof := profiles[id]
	out := Profile{ID: prof.ID, Description: prof.Description}
	seen[id] = true
	for _, parentID := range prof.Inherits {
		if seen[parentID] {
			continue
		}
		parent := merge(parentID, profiles, seen)
		out.Include = appendUnique(out.Include, parent.Include...)
		out.Exclude = appendUnique(out.Exclude, parent.Exclude...)
		out.Overrides = append(out.Overrides, parent.Overrides...)
	}
	out.Include = appendUnique(out.Include, prof.Include...)
	out.Exclude = appendUnique(out.Exclude, prof.Exclude...)
	out.Overrides = append(out.Overrides, prof.Overrides...)
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

// Selects reports whether a scenario with the given labels is part of the profile.
// Exclusion wins over inclusion; an empty include list selects everything.
func (prof Profile) Selects(labels []string) bool {
	for _, l := range labels {
		if slices.Contains(prof.Exclude, l) {
			return false
		}
	}
	if len(prof.Include) == 0 {
		return true
	}
	for _, l := range labels {
		if slices.Contains(prof.Include, l) {
			return true
		}
	}
	return false
}

// Apply applies the matching overrides to c in order.
func (prof Profile) Apply(c runner.ScenarioCase) runner.ScenarioCase {
	id := c.ID()
	for _, o := range prof.Overrides {
		if matched, err := doublestar.Match(o.Match, id); err != nil || !matched {
			continue
		}
		if o.Priority != nil {
			c.Priority = *o.Priority
		}
		if o.Exclusive != nil {
			c.Exclusive = *o.Exclusive
		}
		if o.Dedicated != nil {
			c.Dedicated = *o.Dedicated
		}
	}
	return c
}
