package normalize

import (
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
)

// XrayPreprocessor recognises Xray's test issue export shape: a string
// issueKey plus a nested testScript.steps array, per the original spec's
// example predicate (§4.3).
type XrayPreprocessor struct{}

// Name identifies this preprocessor for provenance/logging.
func (XrayPreprocessor) Name() string { return "xray" }

// Applies reports whether raw looks like an Xray test issue export.
func (XrayPreprocessor) Applies(raw Raw) bool {
	if key, ok := asString(raw, "issueKey"); !ok || key == "" {
		return false
	}
	script := nestedMap(raw, "testScript")
	if script == nil {
		return false
	}
	_, ok := script["steps"]
	return ok
}

// Transform converts an Xray test issue record into a TestDoc.
func (p XrayPreprocessor) Transform(raw Raw) (testdoc.TestDoc, []string, error) {
	var warnings []string

	issueKey, _ := asString(raw, "issueKey")
	fields := nestedMap(raw, "fields")

	title, _ := asString(fields, "summary")
	if title == "" {
		title, _ = asString(raw, "summary")
	}

	uid := issueKey
	if uid == "" {
		uid = fallbackUID(title, p.Name())
		warnings = append(warnings, "no issueKey present, falling back to content hash")
	}

	priorityRaw := ""
	if priorityField := nestedMap(fields, "priority"); priorityField != nil {
		priorityRaw, _ = asString(priorityField, "name")
	}
	priority, priorityWarnings := normalisePriority(priorityRaw)
	warnings = append(warnings, priorityWarnings...)

	steps, stepWarnings := p.harmoniseSteps(raw)
	warnings = append(warnings, stepWarnings...)

	opts := []testdoc.Option{
		testdoc.WithExternalKey(issueKey),
		testdoc.WithPriority(priority),
		testdoc.WithTags(asStringSlice(fields, "labels")),
		testdoc.WithFolderPath(splitFolderPath(fields)),
		testdoc.WithRelatedKeys(asStringSlice(fields, "issuelinks")),
		testdoc.WithSteps(steps),
	}
	if summary, ok := asString(fields, "description"); ok {
		opts = append(opts, testdoc.WithSummary(summary))
	}
	if testType := nestedMap(fields, "testtype"); testType != nil {
		if name, ok := asString(testType, "name"); ok {
			opts = append(opts, testdoc.WithTestType(name))
		}
	}

	doc := testdoc.New(uid, title, p.Name(), opts...)
	return doc, warnings, nil
}

func (XrayPreprocessor) harmoniseSteps(raw Raw) ([]testdoc.TestStep, []string) {
	script := nestedMap(raw, "testScript")
	rawSteps := asMapSlice(script, "steps")

	steps := make([]testdoc.TestStep, 0, len(rawSteps))
	for i, rs := range rawSteps {
		idx, ok := asInt(rs, "index")
		if !ok {
			idx = i + 1
		}
		action, _ := asString(rs, "action")
		expected := wrapScalarOrSlice(rs, "result")
		step := testdoc.NewTestStep(idx, action, expected)
		if data, ok := asString(rs, "data"); ok && data != "" {
			step = step.WithData(data)
		}
		steps = append(steps, step)
	}
	return dedupeStepIndices(steps)
}

// nestedMap navigates to a nested map[string]any field, tolerating
// absence or a type mismatch by returning nil.
func nestedMap(raw Raw, key string) Raw {
	if raw == nil {
		return nil
	}
	v, ok := raw[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return Raw(m)
}

var _ Preprocessor = XrayPreprocessor{}
