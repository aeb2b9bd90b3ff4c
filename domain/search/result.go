package search

// DocHit is a single doc-tier kNN result.
type DocHit struct {
	uid   string
	score float64
}

// NewDocHit creates a DocHit.
func NewDocHit(uid string, score float64) DocHit {
	return DocHit{uid: uid, score: score}
}

// UID returns the doc's identifier.
func (h DocHit) UID() string { return h.uid }

// Score returns the normalised similarity score in [0, 1].
func (h DocHit) Score() float64 { return h.score }

// StepHit is a single step-tier kNN result.
type StepHit struct {
	parentUID string
	index     int
	score     float64
}

// NewStepHit creates a StepHit.
func NewStepHit(parentUID string, index int, score float64) StepHit {
	return StepHit{parentUID: parentUID, index: index, score: score}
}

// ParentUID returns the owning doc's identifier.
func (h StepHit) ParentUID() string { return h.parentUID }

// Index returns the step's index within its parent.
func (h StepHit) Index() int { return h.index }

// Score returns the normalised similarity score in [0, 1].
func (h StepHit) Score() float64 { return h.score }

// Document is a generic piece of text to be embedded and indexed.
type Document struct {
	uid  string
	text string
}

// NewDocument creates a new Document.
func NewDocument(uid, text string) Document {
	return Document{uid: uid, text: text}
}

// UID returns the document's identifier.
func (d Document) UID() string { return d.uid }

// Text returns the document text.
func (d Document) Text() string { return d.text }

// IndexRequest represents a generic indexing request.
type IndexRequest struct {
	documents []Document
}

// NewIndexRequest creates a new IndexRequest.
func NewIndexRequest(documents []Document) IndexRequest {
	docs := make([]Document, len(documents))
	copy(docs, documents)
	return IndexRequest{documents: docs}
}

// Documents returns the documents to index.
func (i IndexRequest) Documents() []Document {
	docs := make([]Document, len(i.documents))
	copy(docs, i.documents)
	return docs
}
