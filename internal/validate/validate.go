// Package validate checks the structural validity of records. The same
// checks run when local records are loaded for repair and when remote
// documents are merged.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// MaxClockSkew is how far in the future a timestamp may lie.
const MaxClockSkew = 5 * time.Minute

// Validator checks records against the schema.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

// New creates a Validator. now defaults to time.Now.
func New(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		v:   validator.New(validator.WithRequiredStructEnabled()),
		now: now,
	}
}

// Check returns a VALIDATION_ERROR listing every violation, or nil.
func (val *Validator) Check(rec *models.Record) error {
	if rec == nil {
		return apperrors.New(apperrors.ErrValidation, "record is nil")
	}

	var problems []string

	if err := val.v.Struct(rec); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	switch rec.Kind {
	case models.KindMeal:
		if rec.Meal == nil {
			problems = append(problems, "meal payload missing")
		}
		if rec.Weight != nil {
			problems = append(problems, "meal record carries a weight payload")
		}
	case models.KindWeight:
		if rec.Weight == nil {
			problems = append(problems, "weight payload missing")
		}
		if rec.Meal != nil {
			problems = append(problems, "weight record carries a meal payload")
		}
	}

	if limit := val.now().Add(MaxClockSkew).UnixMilli(); rec.Timestamp > limit {
		problems = append(problems, fmt.Sprintf("timestamp %d is in the future", rec.Timestamp))
	}

	if msg := checkHistory(rec); msg != "" {
		problems = append(problems, msg)
	}

	if len(problems) > 0 {
		return apperrors.Newf(apperrors.ErrValidation, "record %s invalid: %s", rec.ID, strings.Join(problems, "; "))
	}
	return nil
}

// checkHistory requires strictly increasing versions ending at rec.Version.
func checkHistory(rec *models.Record) string {
	if len(rec.History) == 0 {
		return ""
	}
	prev := 0
	for _, rev := range rec.History {
		if rev.Version <= prev {
			return fmt.Sprintf("non-monotonic version history at version %d", rev.Version)
		}
		prev = rev.Version
	}
	if prev != rec.Version {
		return fmt.Sprintf("history ends at version %d but record is at %d", prev, rec.Version)
	}
	return ""
}

// Decode turns a remote document into a validated record.
func (val *Validator) Decode(id string, fields models.Fields) (*models.Record, error) {
	rec, err := models.RecordFromFields(id, fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "undecodable document", err)
	}
	if rec.ID != id {
		return nil, apperrors.Newf(apperrors.ErrValidation, "document %s carries id %s", id, rec.ID)
	}
	if err := val.Check(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
