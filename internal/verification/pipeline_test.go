package verification_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/imvg93/NoriX-sub006/internal/audit"
	"github.com/imvg93/NoriX-sub006/internal/verification"
)

// memStore mirrors the Mongo repository's selection and update
// semantics in memory so cycles run deterministically.
type memStore struct {
	mu       sync.Mutex
	recs     map[primitive.ObjectID]*verification.Record
	applyErr error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[primitive.ObjectID]*verification.Record)}
}

func (m *memStore) add(rec verification.Record) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	m.recs[rec.ID] = &rec
	return rec.ID
}

func (m *memStore) get(id primitive.ObjectID) verification.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recs[id]
}

func (m *memStore) FindCandidates(ctx context.Context, window time.Duration, limit int) ([]primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-window)

	var due []*verification.Record
	for _, rec := range m.recs {
		fresh := (rec.IDDocumentSubmittedAt != nil && rec.IDDocumentSubmittedAt.After(cutoff)) ||
			(rec.VideoSubmittedAt != nil && rec.VideoSubmittedAt.After(cutoff))
		if fresh || rec.AutoChecks == nil {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		ti, tj := due[i].IDDocumentSubmittedAt, due[j].IDDocumentSubmittedAt
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]primitive.ObjectID, len(due))
	for i, rec := range due {
		ids[i] = rec.ID
	}
	return ids, nil
}

func (m *memStore) GetRecord(ctx context.Context, id primitive.ObjectID) (verification.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return verification.Record{}, verification.ErrNotFound
	}
	return *rec, nil
}

func (m *memStore) ApplyAutoChecks(ctx context.Context, id primitive.ObjectID, checks verification.AutoChecks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	rec, ok := m.recs[id]
	if !ok {
		return verification.ErrNotFound
	}
	rec.AutoChecks = &checks
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    bool
}

func (m *memAudit) Append(ctx context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("audit store down")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

type failScorer struct{}

func (failScorer) OCRConfidence(ctx context.Context, documentURL string) (float64, error) {
	return 0, errors.New("provider unavailable")
}

func (failScorer) FaceMatchScore(ctx context.Context, documentURL, videoURL string) (float64, error) {
	return 0, errors.New("provider unavailable")
}

func (failScorer) DuplicateCheck(ctx context.Context, studentID, documentURL string) (bool, error) {
	return false, errors.New("provider unavailable")
}

func freshRecord() verification.Record {
	now := time.Now().UTC()
	return verification.Record{
		StudentName:           "Asha Rao",
		StudentEmail:          "asha@example.edu",
		IDDocumentURL:         "https://cdn.example/doc.jpg",
		VideoURL:              "https://cdn.example/selfie.mp4",
		IDDocumentSubmittedAt: &now,
		CreatedAt:             now,
	}
}

func newPipeline(records verification.RecordSource, sink verification.AuditSink, scorer verification.Scorer, batch int) *verification.Pipeline {
	return verification.NewPipeline(records, sink, scorer, 24*time.Hour, batch, time.Second, zerolog.Nop())
}

func TestStubCycleScoresFreshRecord(t *testing.T) {
	recs := newMemStore()
	id := recs.add(freshRecord())
	sink := &memAudit{}
	p := newPipeline(recs, sink, verification.StubScorer{}, 10)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if res.Selected != 1 || res.Scored != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec := recs.get(id)
	if rec.AutoChecks == nil {
		t.Fatal("expected auto checks to be written")
	}
	if rec.AutoChecks.OCRConfidence != verification.StubOCRConfidence {
		t.Errorf("ocr confidence = %v, want %v", rec.AutoChecks.OCRConfidence, verification.StubOCRConfidence)
	}
	if rec.AutoChecks.FaceMatchScore != verification.StubFaceMatchScore {
		t.Errorf("face match = %v, want %v", rec.AutoChecks.FaceMatchScore, verification.StubFaceMatchScore)
	}
	if rec.AutoChecks.DuplicateFlag {
		t.Error("duplicate flag should be false under stub scorer")
	}
	if time.Since(rec.AutoChecks.LastCheckedAt) > time.Minute {
		t.Errorf("last checked at not recent: %v", rec.AutoChecks.LastCheckedAt)
	}

	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionAutoCheck {
		t.Errorf("action = %q, want %q", e.Action, audit.ActionAutoCheck)
	}
	if e.AdminID != nil {
		t.Error("automated entry must have nil admin id")
	}
	if e.StudentID != id {
		t.Errorf("student id = %v, want %v", e.StudentID, id)
	}
	if got := e.Details["ocr_confidence"]; got != verification.StubOCRConfidence {
		t.Errorf("details ocr_confidence = %v", got)
	}
	if got := e.Details["face_match_score"]; got != verification.StubFaceMatchScore {
		t.Errorf("details face_match_score = %v", got)
	}
	if got := e.Details["duplicate_flag"]; got != false {
		t.Errorf("details duplicate_flag = %v", got)
	}
}

func TestRescoringOverwritesAndAppendsAgain(t *testing.T) {
	recs := newMemStore()
	id := recs.add(freshRecord())
	sink := &memAudit{}
	p := newPipeline(recs, sink, verification.StubScorer{}, 10)

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	first := *recs.get(id).AutoChecks

	time.Sleep(5 * time.Millisecond)
	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	second := *recs.get(id).AutoChecks

	if !second.LastCheckedAt.After(first.LastCheckedAt) {
		t.Errorf("second check timestamp %v not after first %v", second.LastCheckedAt, first.LastCheckedAt)
	}
	if len(sink.all()) != 2 {
		t.Fatalf("expected two audit entries after re-scoring, got %d", len(sink.all()))
	}
}

func TestAuditFailureDoesNotBlockScoreWrite(t *testing.T) {
	recs := newMemStore()
	id := recs.add(freshRecord())
	sink := &memAudit{fail: true}
	p := newPipeline(recs, sink, verification.StubScorer{}, 10)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if res.Scored != 1 {
		t.Fatalf("expected the candidate to be scored, got %+v", res)
	}
	if recs.get(id).AutoChecks == nil {
		t.Fatal("auto checks must be persisted even when the audit write fails")
	}
	if len(sink.all()) != 0 {
		t.Fatal("no audit entries expected when the sink fails")
	}
}

func TestBatchLimitLeavesRemainderEligible(t *testing.T) {
	recs := newMemStore()
	for i := 0; i < 15; i++ {
		recs.add(freshRecord())
	}
	sink := &memAudit{}
	p := newPipeline(recs, sink, verification.StubScorer{}, 10)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if res.Selected != 10 || res.Scored != 10 {
		t.Fatalf("first cycle should score exactly the batch size, got %+v", res)
	}

	// The records scored above have fresh submission timestamps, so they
	// stay inside the lookback window; only the never-checked remainder
	// plus the re-eligible fresh ones are due. A second pass must still
	// reach the 5 unchecked ones.
	unchecked := 0
	recs.mu.Lock()
	for _, rec := range recs.recs {
		if rec.AutoChecks == nil {
			unchecked++
		}
	}
	recs.mu.Unlock()
	if unchecked != 5 {
		t.Fatalf("expected 5 unchecked records after first cycle, got %d", unchecked)
	}
}

func TestBatchPrefersMostRecentEvidence(t *testing.T) {
	recs := newMemStore()
	base := time.Now().UTC().Add(-time.Hour)
	ids := make([]primitive.ObjectID, 15)
	for i := range ids {
		rec := freshRecord()
		at := base.Add(time.Duration(i) * time.Minute)
		rec.IDDocumentSubmittedAt = &at
		ids[i] = recs.add(rec)
	}
	sink := &memAudit{}
	p := newPipeline(recs, sink, verification.StubScorer{}, 10)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if res.Scored != 10 {
		t.Fatalf("expected a full batch, got %+v", res)
	}

	// Selection orders by document submission time, newest first, so the
	// ten most recent submissions are scored and the five oldest wait.
	for i, id := range ids {
		checked := recs.get(id).AutoChecks != nil
		if i < 5 && checked {
			t.Errorf("record %d (older submission) scored ahead of newer ones", i)
		}
		if i >= 5 && !checked {
			t.Errorf("record %d (recent submission) missing from the batch", i)
		}
	}
}

func TestScorerFailureSkipsCandidateWithoutPartialWrite(t *testing.T) {
	recs := newMemStore()
	id := recs.add(freshRecord())
	sink := &memAudit{}
	p := newPipeline(recs, sink, failScorer{}, 10)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if res.Skipped != 1 || res.Scored != 0 {
		t.Fatalf("expected one skip, got %+v", res)
	}
	if recs.get(id).AutoChecks != nil {
		t.Fatal("no partial auto checks may be written for a failed candidate")
	}
	if len(sink.all()) != 0 {
		t.Fatal("no audit entry expected for a skipped candidate")
	}
}

func TestSelectorExcludesStaleCheckedRecords(t *testing.T) {
	recs := newMemStore()
	old := time.Now().UTC().Add(-48 * time.Hour)
	recs.add(verification.Record{
		StudentName:           "Old Checked",
		StudentEmail:          "old@example.edu",
		IDDocumentSubmittedAt: &old,
		VideoSubmittedAt:      &old,
		AutoChecks:            &verification.AutoChecks{OCRConfidence: 0.9, FaceMatchScore: 0.9, LastCheckedAt: old},
	})
	sink := &memAudit{}
	p := newPipeline(recs, sink, verification.StubScorer{}, 10)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if res.Selected != 0 {
		t.Fatalf("stale already-checked record must not be selected, got %+v", res)
	}
}

func TestEmptySelectionIsNormal(t *testing.T) {
	p := newPipeline(newMemStore(), &memAudit{}, verification.StubScorer{}, 10)
	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("empty selection must not be an error: %v", err)
	}
	if res.Selected != 0 || res.Scored != 0 {
		t.Fatalf("unexpected result for empty store: %+v", res)
	}
}
