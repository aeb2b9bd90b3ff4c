package normalize

import (
	"gopkg.in/yaml.v3"

	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
)

// canonicalCase is the module's own normalised test-case shape — the
// "bring your own normalised file" format `ingest_tests` falls back to
// when no tracker-specific preprocessor's predicate matches.
type canonicalCase struct {
	UID         string          `yaml:"uid"`
	ExternalKey string          `yaml:"external_key"`
	Title       string          `yaml:"title"`
	Summary     string          `yaml:"summary"`
	Priority    string          `yaml:"priority"`
	TestType    string          `yaml:"test_type"`
	Platforms   []string        `yaml:"platforms"`
	Tags        []string        `yaml:"tags"`
	FolderPath  []string        `yaml:"folder_path"`
	RelatedKeys []string        `yaml:"related_keys"`
	Steps       []canonicalStep `yaml:"steps"`
}

type canonicalStep struct {
	Index    int      `yaml:"index"`
	Action   string   `yaml:"action"`
	Data     string   `yaml:"data"`
	Expected []string `yaml:"expected"`
}

// GenericYAMLPreprocessor recognises the module's own canonical test-case
// shape, round-tripped through gopkg.in/yaml.v3 so the same field tags
// ingest_tests documents for "bring your own file" submissions double as
// the decode/validate path here.
type GenericYAMLPreprocessor struct{}

// Name identifies this preprocessor for provenance/logging.
func (GenericYAMLPreprocessor) Name() string { return "generic-yaml" }

// Applies reports whether raw round-trips into the canonical shape with a
// non-empty uid and title.
func (GenericYAMLPreprocessor) Applies(raw Raw) bool {
	cc, err := decodeCanonical(raw)
	if err != nil {
		return false
	}
	return cc.UID != "" && cc.Title != ""
}

// Transform converts a canonical record into a TestDoc.
func (p GenericYAMLPreprocessor) Transform(raw Raw) (testdoc.TestDoc, []string, error) {
	cc, err := decodeCanonical(raw)
	if err != nil {
		return testdoc.TestDoc{}, nil, err
	}

	var warnings []string
	priority, priorityWarnings := normalisePriority(cc.Priority)
	warnings = append(warnings, priorityWarnings...)

	steps := make([]testdoc.TestStep, 0, len(cc.Steps))
	for i, s := range cc.Steps {
		idx := s.Index
		if idx == 0 {
			idx = i + 1
		}
		step := testdoc.NewTestStep(idx, s.Action, s.Expected)
		if s.Data != "" {
			step = step.WithData(s.Data)
		}
		steps = append(steps, step)
	}
	steps, stepWarnings := dedupeStepIndices(steps)
	warnings = append(warnings, stepWarnings...)

	opts := []testdoc.Option{
		testdoc.WithExternalKey(cc.ExternalKey),
		testdoc.WithSummary(cc.Summary),
		testdoc.WithPriority(priority),
		testdoc.WithTestType(cc.TestType),
		testdoc.WithPlatforms(cc.Platforms),
		testdoc.WithTags(cc.Tags),
		testdoc.WithFolderPath(cc.FolderPath),
		testdoc.WithRelatedKeys(cc.RelatedKeys),
		testdoc.WithSteps(steps),
	}

	doc := testdoc.New(cc.UID, cc.Title, p.Name(), opts...)
	return doc, warnings, nil
}

// decodeCanonical round-trips raw (already a generic map, however it was
// originally decoded) through YAML to populate canonicalCase via its yaml
// struct tags.
func decodeCanonical(raw Raw) (canonicalCase, error) {
	bytes, err := yaml.Marshal(map[string]any(raw))
	if err != nil {
		return canonicalCase{}, err
	}
	var cc canonicalCase
	if err := yaml.Unmarshal(bytes, &cc); err != nil {
		return canonicalCase{}, err
	}
	return cc, nil
}

var _ Preprocessor = GenericYAMLPreprocessor{}
