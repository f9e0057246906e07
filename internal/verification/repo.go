package verification

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("verification record not found")

// EvidenceKind names the two evidence slots on a record.
type EvidenceKind string

const (
	EvidenceIDDocument EvidenceKind = "id_document"
	EvidenceVideo      EvidenceKind = "video"
)

// Repository persists verification records in MongoDB.
type Repository struct {
	col *mongo.Collection
}

// NewRepository creates a repo over the verification_records collection.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{col: db.Collection("verification_records")}
}

// CreateRecord inserts a fresh record for a student entering the flow.
func (r *Repository) CreateRecord(ctx context.Context, name, email string) (Record, error) {
	if name == "" || email == "" {
		return Record{}, errors.New("student name and email required")
	}
	rec := Record{
		ID:           primitive.NewObjectID(),
		StudentName:  name,
		StudentEmail: email,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := r.col.InsertOne(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns one record by id.
func (r *Repository) GetRecord(ctx context.Context, id primitive.ObjectID) (Record, error) {
	var rec Record
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// FindCandidates returns ids of records due for an auto-check: evidence
// submitted inside the lookback window, or never checked at all. Most
// recent document submissions come first. Read-only.
func (r *Repository) FindCandidates(ctx context.Context, window time.Duration, limit int) ([]primitive.ObjectID, error) {
	if limit <= 0 {
		limit = 10
	}
	cutoff := time.Now().UTC().Add(-window)
	filter := bson.M{"$or": bson.A{
		bson.M{"id_document_submitted_at": bson.M{"$gte": cutoff}},
		bson.M{"video_submitted_at": bson.M{"$gte": cutoff}},
		bson.M{"auto_checks": bson.M{"$exists": false}},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "id_document_submitted_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var doc struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

// ApplyAutoChecks replaces the record's auto_checks in a single update.
// Prior scores are overwritten, never merged.
func (r *Repository) ApplyAutoChecks(ctx context.Context, id primitive.ObjectID, checks AutoChecks) error {
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"auto_checks": checks}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordShiftOutcome increments the shift counters and recomputes the
// derived reliability score. The second write is guarded by the counter
// values so a concurrent outcome report cannot leave a stale score.
func (r *Repository) RecordShiftOutcome(ctx context.Context, id primitive.ObjectID, noShow bool) (Record, error) {
	inc := bson.M{"total_shifts": 1}
	if noShow {
		inc["no_shows"] = 1
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec Record
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": inc}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	rec.ReliabilityScore = ReliabilityScore(rec.TotalShifts, rec.NoShows)
	_, err = r.col.UpdateOne(ctx,
		bson.M{"_id": id, "total_shifts": rec.TotalShifts, "no_shows": rec.NoShows},
		bson.M{"$set": bson.M{"reliability_score": rec.ReliabilityScore}})
	return rec, err
}

// SetEvidence stores an evidence URL and stamps its submission time.
func (r *Repository) SetEvidence(ctx context.Context, id primitive.ObjectID, kind EvidenceKind, url string, at time.Time) error {
	var set bson.M
	switch kind {
	case EvidenceIDDocument:
		set = bson.M{"id_document_url": url, "id_document_submitted_at": at}
	case EvidenceVideo:
		set = bson.M{"video_url": url, "video_submitted_at": at}
	default:
		return errors.New("unknown evidence kind")
	}
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVerified records a manual review decision.
func (r *Repository) SetVerified(ctx context.Context, id primitive.ObjectID, verified bool) error {
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"verified": verified}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilter narrows List output for review queues.
type ListFilter struct {
	// State is "", "unchecked", "checked" or "verified".
	State  string
	Limit  int
	Offset int
}

// List returns records for the admin review queue, newest document
// submissions first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	filter := bson.M{}
	switch f.State {
	case "unchecked":
		filter["auto_checks"] = bson.M{"$exists": false}
	case "checked":
		filter["auto_checks"] = bson.M{"$exists": true}
		filter["verified"] = false
	case "verified":
		filter["verified"] = true
	case "":
	default:
		return nil, errors.New("unknown state filter")
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "id_document_submitted_at", Value: -1}}).
		SetLimit(int64(f.Limit)).
		SetSkip(int64(f.Offset))

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var recs []Record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
