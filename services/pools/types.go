package pools

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"poolmatch/pkg/apperr"
)

// Pool groups users by location.
type Pool struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Location    *string   `json:"location,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a user's membership in a pool.
type Member struct {
	PoolID   uuid.UUID `json:"pool_id"`
	UserID   uuid.UUID `json:"user_id"`
	CoordX   *float64  `json:"coord_x,omitempty"`
	CoordY   *float64  `json:"coord_y,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// NewPool is the input for creating a pool.
type NewPool struct {
	Name     string  `json:"name"`
	Location *string `json:"location,omitempty"`
}

// PoolPatch updates a pool's descriptive fields. Nil fields are left untouched.
type PoolPatch struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
}

// NewMember is the input for adding a user to a pool.
type NewMember struct {
	UserID uuid.UUID `json:"user_id"`
	CoordX *float64  `json:"coord_x,omitempty"`
	CoordY *float64  `json:"coord_y,omitempty"`
	// MaxMembers, when positive, rejects the add with pool_full once the pool
	// holds that many members.
	MaxMembers int `json:"max_members,omitempty"`
	// Exclusive rejects the add with already_in_pool when the user belongs to
	// any pool.
	Exclusive bool `json:"exclusive,omitempty"`
}

func (p *NewPool) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.InvalidInput("name is required")
	}
	p.Location = trimOptional(p.Location)
	return nil
}

func (p *PoolPatch) normalize() error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return apperr.InvalidInput("name must not be blank")
		}
		p.Name = &name
	}
	if p.Location != nil {
		loc := strings.TrimSpace(*p.Location)
		p.Location = &loc
	}
	return nil
}

func (m NewMember) validate() error {
	if m.UserID == uuid.Nil {
		return apperr.InvalidInput("user_id is required")
	}
	if m.MaxMembers < 0 {
		return apperr.InvalidInput("max_members must not be negative")
	}
	return ValidateCoords(m.CoordX, m.CoordY)
}

// ValidateCoords accepts either no coordinate or a complete, finite one.
func ValidateCoords(x, y *float64) error {
	if (x == nil) != (y == nil) {
		return apperr.InvalidInput("coord_x and coord_y must be provided together")
	}
	for _, v := range []*float64{x, y} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return apperr.InvalidInput("coordinates must be finite numbers")
		}
	}
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func poolNotFound(id uuid.UUID) error {
	return apperr.NotFound(apperr.CodePoolNotFound, "pool %s not found", id)
}

func alreadyInPool(user uuid.UUID) error {
	return apperr.New(apperr.KindConflict, apperr.CodeAlreadyInPool, "user %s is already in a pool", user)
}

func poolFull(id uuid.UUID, max int) error {
	return apperr.New(apperr.KindConflict, apperr.CodePoolFull, "pool %s already holds %d members", id, max)
}

func poolNotEmpty(id uuid.UUID) error {
	return apperr.New(apperr.KindConflict, apperr.CodePoolNotEmpty, "pool %s still has members", id)
}

func memberNotFound(pool, user uuid.UUID) error {
	return apperr.NotFound(apperr.CodeMemberNotFound, "user %s is not a member of pool %s", user, pool)
}
