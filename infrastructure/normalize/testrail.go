package normalize

import (
	"fmt"

	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
)

// TestRailPreprocessor recognises TestRail's exported case shape: a
// numeric case_id plus a custom_steps_separated array of
// {content, expected} step records.
type TestRailPreprocessor struct{}

// Name identifies this preprocessor for provenance/logging.
func (TestRailPreprocessor) Name() string { return "testrail" }

// Applies reports whether raw looks like a TestRail case export.
func (TestRailPreprocessor) Applies(raw Raw) bool {
	if _, ok := asInt(raw, "case_id"); !ok {
		return false
	}
	_, ok := raw["custom_steps_separated"]
	return ok
}

// testRailPriorityNames maps TestRail's priority_id (1=Low .. 4=Critical,
// the default TestRail installation ordering) to testdoc.Priority.
var testRailPriorityNames = map[int]testdoc.Priority{
	1: testdoc.PriorityLow,
	2: testdoc.PriorityMedium,
	3: testdoc.PriorityHigh,
	4: testdoc.PriorityCritical,
}

// Transform converts a TestRail case record into a TestDoc.
func (p TestRailPreprocessor) Transform(raw Raw) (testdoc.TestDoc, []string, error) {
	var warnings []string

	title, _ := asString(raw, "title")
	caseID, _ := asInt(raw, "case_id")

	uid, idOK := asString(raw, "id")
	if !idOK || uid == "" {
		uid = fmt.Sprintf("testrail-%d", caseID)
		warnings = append(warnings, "no explicit id field, falling back to case_id")
	}

	priority := testdoc.PriorityMedium
	if priorityID, ok := asInt(raw, "priority_id"); ok {
		if mapped, known := testRailPriorityNames[priorityID]; known {
			priority = mapped
		} else {
			warnings = append(warnings, fmt.Sprintf("unrecognised TestRail priority_id %d, defaulting to Medium", priorityID))
		}
	}

	steps, stepWarnings := p.harmoniseSteps(raw)
	warnings = append(warnings, stepWarnings...)

	opts := []testdoc.Option{
		testdoc.WithPriority(priority),
		testdoc.WithTags(asStringSlice(raw, "labels")),
		testdoc.WithFolderPath(splitFolderPath(raw)),
		testdoc.WithRelatedKeys(asStringSlice(raw, "refs")),
		testdoc.WithSteps(steps),
	}
	if summary, ok := asString(raw, "custom_preconds"); ok {
		opts = append(opts, testdoc.WithSummary(summary))
	}
	if testType, ok := asString(raw, "custom_automation_type"); ok {
		opts = append(opts, testdoc.WithTestType(testType))
	}

	doc := testdoc.New(uid, title, p.Name(), opts...)
	return doc, warnings, nil
}

func (TestRailPreprocessor) harmoniseSteps(raw Raw) ([]testdoc.TestStep, []string) {
	rawSteps := asMapSlice(raw, "custom_steps_separated")
	steps := make([]testdoc.TestStep, 0, len(rawSteps))
	for i, rs := range rawSteps {
		action, _ := asString(rs, "content")
		expected := wrapScalarOrSlice(rs, "expected")
		step := testdoc.NewTestStep(i+1, action, expected)
		if data, ok := asString(rs, "additional_info"); ok && data != "" {
			step = step.WithData(data)
		}
		steps = append(steps, step)
	}
	return dedupeStepIndices(steps)
}

var _ Preprocessor = TestRailPreprocessor{}
