package verification

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AutoChecks holds the machine scores written by one scoring pass.
// The whole structure is replaced on every pass.
type AutoChecks struct {
	OCRConfidence  float64   `bson:"ocr_confidence" json:"ocr_confidence"`
	FaceMatchScore float64   `bson:"face_match_score" json:"face_match_score"`
	DuplicateFlag  bool      `bson:"duplicate_flag" json:"duplicate_flag"`
	LastCheckedAt  time.Time `bson:"last_checked_at" json:"last_checked_at"`
}

// Record is one student's verification state.
type Record struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	StudentName  string             `bson:"student_name" json:"student_name"`
	StudentEmail string             `bson:"student_email" json:"student_email"`

	IDDocumentURL         string     `bson:"id_document_url,omitempty" json:"id_document_url,omitempty"`
	VideoURL              string     `bson:"video_url,omitempty" json:"video_url,omitempty"`
	IDDocumentSubmittedAt *time.Time `bson:"id_document_submitted_at,omitempty" json:"id_document_submitted_at,omitempty"`
	VideoSubmittedAt      *time.Time `bson:"video_submitted_at,omitempty" json:"video_submitted_at,omitempty"`

	AutoChecks *AutoChecks `bson:"auto_checks,omitempty" json:"auto_checks,omitempty"`

	TotalShifts      int `bson:"total_shifts" json:"total_shifts"`
	NoShows          int `bson:"no_shows" json:"no_shows"`
	ReliabilityScore int `bson:"reliability_score" json:"reliability_score"`

	Verified  bool      `bson:"verified" json:"verified"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// ReliabilityScore derives the 0-100 attendance metric from the shift
// counters. A student with no shifts yet scores 0.
func ReliabilityScore(totalShifts, noShows int) int {
	if totalShifts <= 0 {
		return 0
	}
	missed := noShows
	if missed > totalShifts {
		missed = totalShifts
	}
	return int(math.Round((1 - float64(missed)/float64(totalShifts)) * 100))
}

// Band is the review disposition derived from a score triple.
type Band string

const (
	BandAutoApprove Band = "auto_approve"
	BandReview      Band = "review"
	BandAutoReject  Band = "auto_reject"
)

// Thresholds are the score cutoffs consumed by review tooling. This
// service records scores and classifies them; it never flips verified
// on its own.
type Thresholds struct {
	OCRPass  float64
	OCRFlag  float64
	FacePass float64
	FaceFlag float64
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{OCRPass: 0.8, OCRFlag: 0.6, FacePass: 0.75, FaceFlag: 0.6}
}

// ParseBand maps a state string to a Band, reporting whether it named
// one.
func ParseBand(s string) (Band, bool) {
	switch Band(s) {
	case BandAutoApprove, BandReview, BandAutoReject:
		return Band(s), true
	}
	return "", false
}

// FilterByBand keeps the records whose scores fall in the given band.
// Records that were never auto-checked match no band.
func FilterByBand(recs []Record, t Thresholds, band Band) []Record {
	var out []Record
	for _, rec := range recs {
		if rec.AutoChecks == nil {
			continue
		}
		if t.Band(*rec.AutoChecks) == band {
			out = append(out, rec)
		}
	}
	return out
}

// Band classifies a score triple. A duplicate flag always forces manual
// review regardless of the numeric scores. Otherwise both scores at or
// above their pass cutoff approve, either score below its flag cutoff
// rejects, and anything in between is reviewed by hand.
func (t Thresholds) Band(ac AutoChecks) Band {
	if ac.DuplicateFlag {
		return BandReview
	}
	if ac.OCRConfidence < t.OCRFlag || ac.FaceMatchScore < t.FaceFlag {
		return BandAutoReject
	}
	if ac.OCRConfidence >= t.OCRPass && ac.FaceMatchScore >= t.FacePass {
		return BandAutoApprove
	}
	return BandReview
}
