package matches

import (
	"strings"

	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
)

// Canonicalize orders a participant pair by the canonical string form of the ids.
func Canonicalize(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if strings.Compare(a.String(), b.String()) <= 0 {
		return a, b
	}
	return b, a
}

// DeriveStatus computes a match status from the two participants' latest decisions.
func DeriveStatus(first, second Value) Status {
	switch {
	case first == ValueAccept && second == ValueAccept:
		return StatusAccepted
	case first == ValueReject || second == ValueReject:
		return StatusRejected
	default:
		return StatusWaiting
	}
}

// statusFromDecisions applies DeriveStatus to the decisions recorded by m's
// current participants, ignoring any left over from earlier participants.
func statusFromDecisions(m Match, decisions []Decision) Status {
	var first, second Value
	for _, d := range decisions {
		switch d.UserID {
		case m.User1ID:
			first = d.Decision
		case m.User2ID:
			second = d.Decision
		}
	}
	return DeriveStatus(first, second)
}

// ParseStatus validates a status filter or override.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", apperr.InvalidInput("invalid status %q", raw)
	}
	return s, nil
}

// ParseValue validates a submitted decision.
func ParseValue(raw string) (Value, error) {
	v := Value(strings.ToLower(strings.TrimSpace(raw)))
	if !v.Valid() {
		return ValueNone, apperr.InvalidInput("decision must be accept or reject, got %q", raw)
	}
	return v, nil
}

func invalidParticipants() error {
	return apperr.New(apperr.KindInvalidInput, apperr.CodeInvalidParticipants, "a match needs two distinct participants")
}
