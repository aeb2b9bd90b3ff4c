package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dmason-mlb/mlb-qbench/domain/search"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
	"github.com/dmason-mlb/mlb-qbench/internal/database"
)

// maxExternalKeyMatches bounds the direct-lookup-by-external-key fan-out
// (spec.md §4.6.3: "bounded ≤ 16").
const maxExternalKeyMatches = 16

// documentRow is the full canonical TestDoc payload, stored once per uid
// regardless of store dialect — unlike the vector tiers, this table needs
// no ANN index, so the same GORM model and queries serve both SQLite and
// Postgres (mirrors the teacher's dialect-agnostic persistence models for
// non-vector tables).
type documentRow struct {
	UID         string `gorm:"primaryKey"`
	ExternalKey string `gorm:"index"`
	Title       string
	Summary     string
	Priority    string `gorm:"index"`
	TestType    string `gorm:"index"`
	Platforms   StringSet
	Tags        StringSet
	FolderPath  StringSet
	RelatedKeys StringSet
	StepsJSON   string
	Source      string
	IngestedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

type stepPayload struct {
	Index    int      `json:"index"`
	Action   string   `json:"action"`
	Data     string   `json:"data,omitempty"`
	Expected []string `json:"expected,omitempty"`
}

func documentRowFromDoc(doc testdoc.TestDoc) (documentRow, error) {
	externalKey, _ := doc.ExternalKey()
	summary, _ := doc.Summary()
	testType, _ := doc.TestType()

	steps := doc.Steps()
	payloads := make([]stepPayload, len(steps))
	for i, s := range steps {
		data, _ := s.Data()
		payloads[i] = stepPayload{Index: s.Index(), Action: s.Action(), Data: data, Expected: s.Expected()}
	}
	stepsJSON, err := json.Marshal(payloads)
	if err != nil {
		return documentRow{}, err
	}

	return documentRow{
		UID:         doc.UID(),
		ExternalKey: externalKey,
		Title:       doc.Title(),
		Summary:     summary,
		Priority:    string(doc.Priority()),
		TestType:    testType,
		Platforms:   StringSet(doc.Platforms()),
		Tags:        StringSet(doc.Tags()),
		FolderPath:  StringSet(doc.FolderPath()),
		RelatedKeys: StringSet(doc.RelatedKeys()),
		StepsJSON:   string(stepsJSON),
		Source:      doc.Source(),
		IngestedAt:  doc.IngestedAt(),
	}, nil
}

func (r documentRow) toDoc() (testdoc.TestDoc, error) {
	var payloads []stepPayload
	if r.StepsJSON != "" {
		if err := json.Unmarshal([]byte(r.StepsJSON), &payloads); err != nil {
			return testdoc.TestDoc{}, err
		}
	}
	steps := make([]testdoc.TestStep, len(payloads))
	for i, p := range payloads {
		step := testdoc.NewTestStep(p.Index, p.Action, p.Expected)
		if p.Data != "" {
			step = step.WithData(p.Data)
		}
		steps[i] = step
	}

	opts := []testdoc.Option{
		testdoc.WithExternalKey(r.ExternalKey),
		testdoc.WithSummary(r.Summary),
		testdoc.WithPriority(testdoc.Priority(r.Priority)),
		testdoc.WithTestType(r.TestType),
		testdoc.WithPlatforms([]string(r.Platforms)),
		testdoc.WithTags([]string(r.Tags)),
		testdoc.WithFolderPath([]string(r.FolderPath)),
		testdoc.WithRelatedKeys([]string(r.RelatedKeys)),
		testdoc.WithSteps(steps),
		testdoc.WithIngestedAt(r.IngestedAt),
	}
	return testdoc.New(r.UID, r.Title, r.Source, opts...), nil
}

// GormDocumentStore implements search.DocumentStore over any GORM dialect.
type GormDocumentStore struct {
	db database.Database
}

// NewGormDocumentStore creates a GormDocumentStore, migrating its table.
func NewGormDocumentStore(db database.Database) (*GormDocumentStore, error) {
	if err := db.GORM().AutoMigrate(&documentRow{}); err != nil {
		return nil, err
	}
	return &GormDocumentStore{db: db}, nil
}

// SaveDoc upserts the full document, keyed by uid.
func (s *GormDocumentStore) SaveDoc(ctx context.Context, doc testdoc.TestDoc) error {
	row, err := documentRowFromDoc(doc)
	if err != nil {
		return err
	}
	return s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// FetchDocByUID fetches one document by uid.
func (s *GormDocumentStore) FetchDocByUID(ctx context.Context, uid string) (testdoc.TestDoc, bool, error) {
	var row documentRow
	err := s.db.Session(ctx).Where("uid = ?", uid).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return testdoc.TestDoc{}, false, nil
		}
		return testdoc.TestDoc{}, false, err
	}
	doc, err := row.toDoc()
	if err != nil {
		return testdoc.TestDoc{}, false, err
	}
	return doc, true, nil
}

// FetchDocsByUIDs batch-fetches documents for hydration.
func (s *GormDocumentStore) FetchDocsByUIDs(ctx context.Context, uids []string) ([]testdoc.TestDoc, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	var rows []documentRow
	if err := s.db.Session(ctx).Where("uid IN ?", uids).Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]testdoc.TestDoc, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDoc()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FetchDocsByExternalKey fetches all documents sharing an external key,
// bounded to maxExternalKeyMatches.
func (s *GormDocumentStore) FetchDocsByExternalKey(ctx context.Context, externalKey string) ([]testdoc.TestDoc, error) {
	var rows []documentRow
	if err := s.db.Session(ctx).Where("external_key = ?", externalKey).Limit(maxExternalKeyMatches).Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]testdoc.TestDoc, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toDoc()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DeleteDocByUID removes a document, returning the count deleted.
func (s *GormDocumentStore) DeleteDocByUID(ctx context.Context, uid string) (int64, error) {
	result := s.db.Session(ctx).Where("uid = ?", uid).Delete(&documentRow{})
	return result.RowsAffected, result.Error
}

// CountDocs returns the number of stored documents.
func (s *GormDocumentStore) CountDocs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&documentRow{}).Count(&count).Error
	return count, err
}

var _ search.DocumentStore = (*GormDocumentStore)(nil)
