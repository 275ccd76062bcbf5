package matches

import (
	"errors"

	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/db"
)

func matchNotFound(id uuid.UUID) error {
	return apperr.NotFound(apperr.CodeMatchNotFound, "match %s not found", id)
}

func decisionNotFound(matchID, userID uuid.UUID) error {
	return apperr.NotFound(apperr.CodeDecisionNotFound, "no decision by user %s on match %s", userID, matchID)
}

func duplicateMatch() error {
	return apperr.New(apperr.KindConflict, apperr.CodeDuplicateMatch, "match already exists for this pair in this pool")
}

// storeErr classifies a raw database error. Typed errors pass through.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	if db.IsUniqueViolation(err) {
		return duplicateMatch()
	}
	if db.IsUnavailable(err) {
		return &apperr.Error{
			Kind: apperr.KindUpstreamUnavailable,
			Code: apperr.CodeStoreUnavailable,
			Msg:  op,
			Err:  err,
		}
	}
	return apperr.Internal(err, "%s", op)
}
