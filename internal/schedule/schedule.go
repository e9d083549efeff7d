// Package schedule models the human-approved execution plan: ordered phases
// of SubSpec groups. Groups within a phase may run in parallel; phases run in
// order.
package schedule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Document struct {
	Phases []Group `yaml:"phases" json:"phases"`
}

type Group struct {
	Name     string   `yaml:"name" json:"name"`
	SubSpecs []string `yaml:"subSpecs" json:"subSpecs"`
}

// FromYAML parses a schedule document. YAML is a superset of JSON, so both
// work.
func FromYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if len(doc.Phases) == 0 {
		return nil, fmt.Errorf("invalid schedule: no phases")
	}
	return &doc, nil
}

// FromFile reads and parses a schedule document from path.
func FromFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks every group member against the known SubSpec ids and rejects
// duplicate membership across groups. Not every SubSpec has to be scheduled.
func (d *Document) Validate(knownIDs []string) error {
	known := make(map[string]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}
	seen := map[string]string{}
	for i, phase := range d.Phases {
		if len(phase.SubSpecs) == 0 {
			return fmt.Errorf("schedule phase %d (%s) has no sub-specs", i+1, phase.Name)
		}
		for _, id := range phase.SubSpecs {
			if !known[id] {
				return fmt.Errorf("schedule phase %d (%s) references unknown sub-spec %s", i+1, phase.Name, id)
			}
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("sub-spec %s appears in both %s and %s", id, prev, phase.Name)
			}
			seen[id] = phase.Name
		}
	}
	return nil
}
