package jsonapi

import (
	"github.com/dmason-mlb/mlb-qbench/domain/service"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
	"github.com/dmason-mlb/mlb-qbench/internal/health"
)

// TestDocAttributes represents a TestDoc's fields in JSON:API format.
type TestDocAttributes struct {
	ExternalKey string   `json:"external_key,omitempty"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Priority    string   `json:"priority"`
	TestType    string   `json:"test_type,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	FolderPath  []string `json:"folder_path,omitempty"`
	RelatedKeys []string `json:"related_keys,omitempty"`
	Source      string   `json:"source"`
}

// SearchHitAttributes represents one hydrated search hit in JSON:API
// format: the fused score, the contributing step indices, and the
// matched document's attributes.
type SearchHitAttributes struct {
	Score              float64            `json:"score"`
	MatchedStepIndices []int              `json:"matched_step_indices,omitempty"`
	Doc                *TestDocAttributes `json:"doc"`
}

// Serializer converts retrieval-domain objects to JSON:API resources.
type Serializer struct{}

// NewSerializer creates a new Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// TestDocResource converts a TestDoc to a JSON:API resource.
func (s *Serializer) TestDocResource(d testdoc.TestDoc) *Resource {
	return NewResource("test_doc", d.UID(), testDocAttributes(d))
}

// SearchHitResource converts a SearchHit to a JSON:API resource.
func (s *Serializer) SearchHitResource(hit service.SearchHit) *Resource {
	attrs := testDocAttributes(hit.Doc)
	return NewResource("search_hit", hit.UID, &SearchHitAttributes{
		Score:              hit.Score,
		MatchedStepIndices: hit.MatchedStepIndices,
		Doc:                attrs,
	})
}

// SearchResultDocument converts a full SearchResult into a JSON:API list
// document, folding the partial-result warning into the document meta.
func (s *Serializer) SearchResultDocument(result service.SearchResult) *Document {
	resources := make([]*Resource, len(result.Hits))
	for i, hit := range result.Hits {
		resources[i] = s.SearchHitResource(hit)
	}
	doc := NewListResponse(resources)
	if result.Warning != "" {
		doc.Meta = &Meta{"warning": result.Warning}
	}
	return doc
}

// HealthResource converts a health.Snapshot to a JSON:API resource.
func (s *Serializer) HealthResource(snapshot health.Snapshot) *Resource {
	return NewResource("health", "current", snapshot)
}

func testDocAttributes(d testdoc.TestDoc) *TestDocAttributes {
	externalKey, _ := d.ExternalKey()
	summary, _ := d.Summary()
	testType, _ := d.TestType()
	return &TestDocAttributes{
		ExternalKey: externalKey,
		Title:       d.Title(),
		Summary:     summary,
		Priority:    string(d.Priority()),
		TestType:    testType,
		Platforms:   d.Platforms(),
		Tags:        d.Tags(),
		FolderPath:  d.FolderPath(),
		RelatedKeys: d.RelatedKeys(),
		Source:      d.Source(),
	}
}
