package pools

import (
	"context"

	"github.com/google/uuid"
)

// Store persists pools and their members. Membership changes and the pool's
// member_count move together in one transaction.
type Store interface {
	CreatePool(ctx context.Context, in NewPool) (Pool, error)
	ListPools(ctx context.Context, location *string) ([]Pool, error)
	GetPool(ctx context.Context, id uuid.UUID) (Pool, error)
	UpdatePool(ctx context.Context, id uuid.UUID, patch PoolPatch) (Pool, error)
	DeletePool(ctx context.Context, id uuid.UUID) error
	// DeleteEmptyPool deletes the pool only while it has no members, failing
	// with pool_not_empty otherwise.
	DeleteEmptyPool(ctx context.Context, id uuid.UUID) error

	// AddMember fails with KindInvalidInput when the pool does not exist or
	// the user is already a member of it. The exclusivity and capacity limits
	// carried by in are checked atomically with the insert.
	AddMember(ctx context.Context, pool uuid.UUID, in NewMember) (Member, error)
	ListMembers(ctx context.Context, pool uuid.UUID) ([]Member, error)
	GetMember(ctx context.Context, pool, user uuid.UUID) (Member, error)
	RemoveMember(ctx context.Context, pool, user uuid.UUID) (Member, error)

	// UserMemberships lists every pool membership held by user.
	UserMemberships(ctx context.Context, user uuid.UUID) ([]Member, error)
	// RemoveUser drops user from every pool it belongs to.
	RemoveUser(ctx context.Context, user uuid.UUID) ([]Member, error)

	Ping(ctx context.Context) error
}
