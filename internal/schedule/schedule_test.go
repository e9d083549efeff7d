package schedule_test

import (
	"os"
	"path/filepath"
	"testing"

	"specloom/internal/schedule"
)

const sampleYAML = `
phases:
  - name: wave-1
    subSpecs: [001-parser, 002-lexer]
  - name: wave-2
    subSpecs: [003-eval]
`

func TestFromYAML(t *testing.T) {
	doc, err := schedule.FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(doc.Phases))
	}
	if doc.Phases[0].Name != "wave-1" || len(doc.Phases[0].SubSpecs) != 2 {
		t.Fatalf("unexpected first phase: %+v", doc.Phases[0])
	}
}

func TestFromYAMLAcceptsJSON(t *testing.T) {
	raw := `{"phases":[{"name":"wave-1","subSpecs":["001-parser"]}]}`
	doc, err := schedule.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if doc.Phases[0].SubSpecs[0] != "001-parser" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestFromYAMLRejectsEmpty(t *testing.T) {
	if _, err := schedule.FromYAML([]byte("phases: []")); err == nil {
		t.Fatalf("expected empty schedule rejection")
	}
	if _, err := schedule.FromYAML([]byte(":\tnot yaml")); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := schedule.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if len(doc.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(doc.Phases))
	}
	if _, err := schedule.FromFile(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestValidate(t *testing.T) {
	known := []string{"001-parser", "002-lexer", "003-eval"}
	doc, _ := schedule.FromYAML([]byte(sampleYAML))
	if err := doc.Validate(known); err != nil {
		t.Fatalf("valid doc rejected: %v", err)
	}
	// unknown id
	if err := doc.Validate([]string{"001-parser"}); err == nil {
		t.Fatalf("expected unknown sub-spec rejection")
	}
	// duplicate across phases
	dup := &schedule.Document{Phases: []schedule.Group{
		{Name: "a", SubSpecs: []string{"001-parser"}},
		{Name: "b", SubSpecs: []string{"001-parser"}},
	}}
	if err := dup.Validate(known); err == nil {
		t.Fatalf("expected duplicate membership rejection")
	}
	// empty group
	empty := &schedule.Document{Phases: []schedule.Group{{Name: "a"}}}
	if err := empty.Validate(known); err == nil {
		t.Fatalf("expected empty group rejection")
	}
	// a sub-spec left out of the schedule is fine
	partial := &schedule.Document{Phases: []schedule.Group{{Name: "a", SubSpecs: []string{"003-eval"}}}}
	if err := partial.Validate(known); err != nil {
		t.Fatalf("partial schedule should validate: %v", err)
	}
}
