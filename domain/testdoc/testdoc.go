// Package testdoc defines the canonical test document and test step types
// that are the unit of ingestion and retrieval.
package testdoc

import (
	"sort"
	"strings"
	"time"
)

// Priority is the test's priority classification.
type Priority string

// Priority values.
const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// TestStep is a single execution step within a TestDoc.
type TestStep struct {
	index    int
	action   string
	data     string
	hasData  bool
	expected []string
}

// NewTestStep creates a TestStep. index must be a positive integer, unique
// within the owning TestDoc (I2).
func NewTestStep(index int, action string, expected []string) TestStep {
	exp := make([]string, len(expected))
	copy(exp, expected)
	return TestStep{index: index, action: action, expected: exp}
}

// WithData attaches the step's input data.
func (s TestStep) WithData(data string) TestStep {
	s.data = data
	s.hasData = true
	return s
}

// Index returns the step's position within its parent, 1-based by convention.
func (s TestStep) Index() int { return s.index }

// Action returns the action performed by this step.
func (s TestStep) Action() string { return s.action }

// Data returns the step's input data and whether it was set.
func (s TestStep) Data() (string, bool) { return s.data, s.hasData }

// Expected returns the ordered expected outcomes (copy).
func (s TestStep) Expected() []string {
	out := make([]string, len(s.expected))
	copy(out, s.expected)
	return out
}

// Text builds the step's embedding text per the fixed harmonisation rule:
// action, newline, data (if present), newline, expected joined by "; ".
func (s TestStep) Text() string {
	var b strings.Builder
	b.WriteString(s.action)
	if s.hasData && s.data != "" {
		b.WriteByte('\n')
		b.WriteString(s.data)
	}
	if len(s.expected) > 0 {
		b.WriteByte('\n')
		b.WriteString(strings.Join(s.expected, "; "))
	}
	return b.String()
}

// TestDoc is the canonical, normalised test document.
type TestDoc struct {
	uid          string
	externalKey  string
	hasExtKey    bool
	title        string
	summary      string
	hasSummary   bool
	priority     Priority
	hasPriority  bool
	testType     string
	hasTestType  bool
	platforms    []string
	tags         []string
	folderPath   []string
	relatedKeys  []string
	steps        []TestStep
	source       string
	ingestedAt   time.Time
}

// Option configures a TestDoc at construction time.
type Option func(*TestDoc)

// WithExternalKey sets the external tracker key (e.g. an issue key).
func WithExternalKey(key string) Option {
	return func(d *TestDoc) {
		d.externalKey = key
		d.hasExtKey = key != ""
	}
}

// WithSummary sets the description/summary text.
func WithSummary(summary string) Option {
	return func(d *TestDoc) {
		d.summary = summary
		d.hasSummary = summary != ""
	}
}

// WithPriority sets the priority. Unset defaults to Medium (C3 rule); an
// empty p leaves the default in place.
func WithPriority(p Priority) Option {
	return func(d *TestDoc) {
		if p == "" {
			return
		}
		d.priority = p
		d.hasPriority = true
	}
}

// WithTestType sets the test type classification.
func WithTestType(t string) Option {
	return func(d *TestDoc) {
		d.testType = t
		d.hasTestType = t != ""
	}
}

// WithPlatforms sets the platform set.
func WithPlatforms(platforms []string) Option {
	return func(d *TestDoc) {
		d.platforms = dedupe(platforms)
	}
}

// WithTags sets the tag set.
func WithTags(tags []string) Option {
	return func(d *TestDoc) {
		d.tags = dedupe(tags)
	}
}

// WithFolderPath sets the hierarchical folder path.
func WithFolderPath(path []string) Option {
	return func(d *TestDoc) {
		d.folderPath = trimPath(path)
	}
}

// WithRelatedKeys sets the cross-reference key set.
func WithRelatedKeys(keys []string) Option {
	return func(d *TestDoc) {
		d.relatedKeys = dedupe(keys)
	}
}

// WithSteps sets the ordered steps.
func WithSteps(steps []TestStep) Option {
	return func(d *TestDoc) {
		cp := make([]TestStep, len(steps))
		copy(cp, steps)
		d.steps = cp
	}
}

// WithIngestedAt sets the ingestion timestamp.
func WithIngestedAt(t time.Time) Option {
	return func(d *TestDoc) { d.ingestedAt = t }
}

// New creates a TestDoc. uid, title, and source are required by (I2)/field
// constraints; priority defaults to Medium when not supplied (C3 rule).
func New(uid, title, source string, opts ...Option) TestDoc {
	d := TestDoc{
		uid:      uid,
		title:    title,
		source:   source,
		priority: PriorityMedium,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// UID returns the globally unique, stable-across-reingest identifier.
func (d TestDoc) UID() string { return d.uid }

// ExternalKey returns the tracker key and whether one is set.
func (d TestDoc) ExternalKey() (string, bool) { return d.externalKey, d.hasExtKey }

// Title returns the required title.
func (d TestDoc) Title() string { return d.title }

// Summary returns the description/summary and whether one is set.
func (d TestDoc) Summary() (string, bool) { return d.summary, d.hasSummary }

// Priority returns the priority classification (never empty; defaults to Medium).
func (d TestDoc) Priority() Priority { return d.priority }

// TestType returns the test type and whether one is set.
func (d TestDoc) TestType() (string, bool) { return d.testType, d.hasTestType }

// Platforms returns the platform set (copy).
func (d TestDoc) Platforms() []string { return cloneSlice(d.platforms) }

// Tags returns the tag set (copy).
func (d TestDoc) Tags() []string { return cloneSlice(d.tags) }

// FolderPath returns the hierarchical folder path (copy).
func (d TestDoc) FolderPath() []string { return cloneSlice(d.folderPath) }

// RelatedKeys returns the cross-reference set (copy).
func (d TestDoc) RelatedKeys() []string { return cloneSlice(d.relatedKeys) }

// Steps returns the ordered steps (copy).
func (d TestDoc) Steps() []TestStep {
	out := make([]TestStep, len(d.steps))
	copy(out, d.steps)
	return out
}

// Source returns the origin marker.
func (d TestDoc) Source() string { return d.source }

// IngestedAt returns the ingestion timestamp.
func (d TestDoc) IngestedAt() time.Time { return d.ingestedAt }

// Text builds the doc's embedding text per the fixed harmonisation rule:
// title, newline, description (if non-empty).
func (d TestDoc) Text() string {
	if d.hasSummary && d.summary != "" {
		return d.title + "\n" + d.summary
	}
	return d.title
}

// Validate enforces the field constraints from the data model (§3): uid and
// title are required, step indexes are unique within the doc (I2).
func (d TestDoc) Validate() error {
	if d.uid == "" {
		return errEmptyUID
	}
	if d.title == "" {
		return errEmptyTitle
	}
	seen := make(map[int]struct{}, len(d.steps))
	for _, s := range d.steps {
		if _, dup := seen[s.index]; dup {
			return errDuplicateStepIndex
		}
		seen[s.index] = struct{}{}
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func trimPath(in []string) []string {
	out := make([]string, 0, len(in))
	for _, seg := range in {
		seg = strings.Trim(seg, "/")
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func cloneSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
