package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Actions recorded in the audit log.
const (
	ActionAutoCheck         = "auto_check"
	ActionManualApprove     = "manual_approve"
	ActionManualReject      = "manual_reject"
	ActionRecheckRequested  = "recheck_requested"
	ActionEvidenceSubmitted = "evidence_submitted"
)

// Entry is one append-only audit record. AdminID is nil for automated
// actions; entries are never updated or deleted once written.
type Entry struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	StudentID primitive.ObjectID  `bson:"student_id" json:"student_id"`
	AdminID   *primitive.ObjectID `bson:"admin_id" json:"admin_id"`
	Action    string              `bson:"action" json:"action"`
	Code      string              `bson:"code,omitempty" json:"code,omitempty"`
	Details   bson.M              `bson:"details,omitempty" json:"details,omitempty"`
	Timestamp time.Time           `bson:"timestamp" json:"timestamp"`
}

// Store appends and reads audit entries in MongoDB.
type Store struct {
	col *mongo.Collection
}

// NewStore creates a store over the audit_log collection.
func NewStore(db *mongo.Database) *Store {
	return &Store{col: db.Collection("audit_log")}
}

// Append inserts one entry. ID and Timestamp are filled in when unset.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.col.InsertOne(ctx, e)
	return err
}

// ListForStudent returns the most recent entries for one student.
func (s *Store) ListForStudent(ctx context.Context, studentID primitive.ObjectID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, bson.M{"student_id": studentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []Entry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
