package verification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/imvg93/NoriX-sub006/internal/audit"
)

// Stub scores reported when no real provider is configured.
const (
	StubOCRConfidence  = 0.8
	StubFaceMatchScore = 0.75
)

// Scorer is the capability set a scoring backend must provide. All
// scores are in [0,1].
type Scorer interface {
	OCRConfidence(ctx context.Context, documentURL string) (float64, error)
	FaceMatchScore(ctx context.Context, documentURL, videoURL string) (float64, error)
	DuplicateCheck(ctx context.Context, studentID, documentURL string) (bool, error)
}

// StubScorer reports fixed pass-level scores without calling any
// provider. It is the default backend until a real KYC service is wired
// up via SCORER_BACKEND.
type StubScorer struct{}

func (StubScorer) OCRConfidence(ctx context.Context, documentURL string) (float64, error) {
	return StubOCRConfidence, nil
}

func (StubScorer) FaceMatchScore(ctx context.Context, documentURL, videoURL string) (float64, error) {
	return StubFaceMatchScore, nil
}

func (StubScorer) DuplicateCheck(ctx context.Context, studentID, documentURL string) (bool, error) {
	return false, nil
}

// RecordSource is the record-store surface the pipeline needs. The
// Mongo-backed Repository implements it; tests substitute an in-memory
// store.
type RecordSource interface {
	FindCandidates(ctx context.Context, window time.Duration, limit int) ([]primitive.ObjectID, error)
	GetRecord(ctx context.Context, id primitive.ObjectID) (Record, error)
	ApplyAutoChecks(ctx context.Context, id primitive.ObjectID, checks AutoChecks) error
}

// AuditSink receives the append-only trail of scoring actions.
type AuditSink interface {
	Append(ctx context.Context, e audit.Entry) error
}

// Pipeline selects due records and scores them. The score write is the
// authoritative side effect; the audit append is best effort.
type Pipeline struct {
	records      RecordSource
	auditLog     AuditSink
	scorer       Scorer
	window       time.Duration
	batchSize    int
	scoreTimeout time.Duration
	log          zerolog.Logger
}

// NewPipeline wires a pipeline. Zero window, batch and timeout values
// fall back to 24h, 10 and 30s.
func NewPipeline(records RecordSource, auditLog AuditSink, scorer Scorer, window time.Duration, batchSize int, scoreTimeout time.Duration, log zerolog.Logger) *Pipeline {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if scoreTimeout <= 0 {
		scoreTimeout = 30 * time.Second
	}
	return &Pipeline{
		records:      records,
		auditLog:     auditLog,
		scorer:       scorer,
		window:       window,
		batchSize:    batchSize,
		scoreTimeout: scoreTimeout,
		log:          log,
	}
}

// CycleResult summarizes one selection+scoring pass.
type CycleResult struct {
	Selected int
	Scored   int
	Skipped  int
}

// RunCycle executes one selection+scoring pass. An empty selection is a
// normal outcome. Per-candidate failures are logged and skipped; the
// candidate stays selectable because no last_checked_at was written.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleResult, error) {
	ids, err := p.records.FindCandidates(ctx, p.window, p.batchSize)
	if err != nil {
		return CycleResult{}, err
	}
	res := CycleResult{Selected: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := p.scoreOne(ctx, id); err != nil {
			res.Skipped++
			scoringFailures.Inc()
			p.log.Warn().Err(err).Str("record_id", id.Hex()).Msg("candidate skipped")
			continue
		}
		res.Scored++
		candidatesScored.Inc()
	}
	return res, nil
}

func (p *Pipeline) scoreOne(ctx context.Context, id primitive.ObjectID) error {
	rec, err := p.records.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	// Each external call gets its own bounded wait. A timed-out check
	// fails the whole candidate: no partial score is ever committed.
	ocr, err := p.withTimeout(ctx, func(c context.Context) (float64, error) {
		return p.scorer.OCRConfidence(c, rec.IDDocumentURL)
	})
	if err != nil {
		return err
	}
	face, err := p.withTimeout(ctx, func(c context.Context) (float64, error) {
		return p.scorer.FaceMatchScore(c, rec.IDDocumentURL, rec.VideoURL)
	})
	if err != nil {
		return err
	}
	dupCtx, cancel := context.WithTimeout(ctx, p.scoreTimeout)
	dup, err := p.scorer.DuplicateCheck(dupCtx, rec.ID.Hex(), rec.IDDocumentURL)
	cancel()
	if err != nil {
		return err
	}

	checks := AutoChecks{
		OCRConfidence:  ocr,
		FaceMatchScore: face,
		DuplicateFlag:  dup,
		LastCheckedAt:  time.Now().UTC(),
	}
	if err := p.records.ApplyAutoChecks(ctx, id, checks); err != nil {
		return err
	}

	entry := audit.Entry{
		StudentID: id,
		AdminID:   nil,
		Action:    audit.ActionAutoCheck,
		Code:      "scored",
		Details: bson.M{
			"ocr_confidence":   checks.OCRConfidence,
			"face_match_score": checks.FaceMatchScore,
			"duplicate_flag":   checks.DuplicateFlag,
		},
	}
	if err := p.auditLog.Append(ctx, entry); err != nil {
		// The score is already committed; the trail is best effort but
		// its absence is the only forensic gap, so it is surfaced loudly.
		auditWriteFailures.Inc()
		p.log.Error().Err(err).Str("record_id", id.Hex()).Msg("audit append failed")
	}
	return nil
}

func (p *Pipeline) withTimeout(ctx context.Context, fn func(context.Context) (float64, error)) (float64, error) {
	c, cancel := context.WithTimeout(ctx, p.scoreTimeout)
	defer cancel()
	return fn(c)
}
