package pools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poolmatch/pkg/apperr"
	"poolmatch/pkg/db"
)

type poolModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	Location    *string   `gorm:"type:text"`
	MemberCount int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (poolModel) TableName() string { return "pools" }

func (m poolModel) toAPI() Pool {
	return Pool{
		ID:          m.ID,
		Name:        m.Name,
		Location:    m.Location,
		MemberCount: m.MemberCount,
		CreatedAt:   m.CreatedAt,
	}
}

type memberModel struct {
	PoolID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	CoordX   *float64  `gorm:"type:double precision"`
	CoordY   *float64  `gorm:"type:double precision"`
	JoinedAt time.Time `gorm:"type:timestamptz;not null;autoCreateTime"`
}

func (memberModel) TableName() string { return "pool_members" }

func (m memberModel) toAPI() Member {
	return Member{
		PoolID:   m.PoolID,
		UserID:   m.UserID,
		CoordX:   m.CoordX,
		CoordY:   m.CoordY,
		JoinedAt: m.JoinedAt,
	}
}

// GormStore is the Postgres-backed Store.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore wraps an open GORM session.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.DefaultTimeout)
}

// ormErr classifies a GORM error. Typed errors pass through.
func ormErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	if db.IsUnavailable(err) {
		return &apperr.Error{Kind: apperr.KindUpstreamUnavailable, Code: apperr.CodeStoreUnavailable, Msg: op, Err: err}
	}
	return apperr.Internal(err, "%s", op)
}

func (s *GormStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) CreatePool(ctx context.Context, in NewPool) (Pool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	model := poolModel{ID: uuid.New(), Name: in.Name, Location: in.Location}
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return Pool{}, ormErr(err, "create pool")
	}
	return model.toAPI(), nil
}

func (s *GormStore) ListPools(ctx context.Context, location *string) ([]Pool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := s.orm.WithContext(ctx).Order("created_at ASC")
	if location != nil {
		query = query.Where("location = ?", *location)
	}
	var models []poolModel
	if err := query.Find(&models).Error; err != nil {
		return nil, ormErr(err, "list pools")
	}
	out := make([]Pool, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

func (s *GormStore) GetPool(ctx context.Context, id uuid.UUID) (Pool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model poolModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pool{}, poolNotFound(id)
	}
	if err != nil {
		return Pool{}, ormErr(err, "get pool")
	}
	return model.toAPI(), nil
}

func (s *GormStore) UpdatePool(ctx context.Context, id uuid.UUID, patch PoolPatch) (Pool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Location != nil {
		if *patch.Location == "" {
			updates["location"] = nil
		} else {
			updates["location"] = *patch.Location
		}
	}

	var model poolModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return poolNotFound(id)
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&model).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return Pool{}, ormErr(err, "update pool")
	}
	return model.toAPI(), nil
}

func (s *GormStore) DeletePool(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res := s.orm.WithContext(ctx).Delete(&poolModel{}, "id = ?", id)
	if res.Error != nil {
		return ormErr(res.Error, "delete pool")
	}
	if res.RowsAffected == 0 {
		return poolNotFound(id)
	}
	return nil
}

func (s *GormStore) DeleteEmptyPool(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res := s.orm.WithContext(ctx).Where("member_count = 0").Delete(&poolModel{}, "id = ?", id)
	if res.Error != nil {
		return ormErr(res.Error, "delete empty pool")
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.GetPool(ctx, id); err != nil {
		return err
	}
	return poolNotEmpty(id)
}

func (s *GormStore) AddMember(ctx context.Context, pool uuid.UUID, in NewMember) (Member, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	model := memberModel{PoolID: pool, UserID: in.UserID, CoordX: in.CoordX, CoordY: in.CoordY}
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.Exclusive {
			// Exclusive adds of one user queue here until the first commits.
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", in.UserID.String()).Error; err != nil {
				return err
			}
		}
		var p poolModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", pool).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindInvalidInput, apperr.CodePoolNotFound, "pool %s does not exist", pool)
			}
			return err
		}
		if in.Exclusive {
			var held int64
			if err := tx.Model(&memberModel{}).Where("user_id = ?", in.UserID).Count(&held).Error; err != nil {
				return err
			}
			if held > 0 {
				return alreadyInPool(in.UserID)
			}
		}
		if in.MaxMembers > 0 && p.MemberCount >= in.MaxMembers {
			return poolFull(pool, in.MaxMembers)
		}
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.New(apperr.KindInvalidInput, apperr.CodeMemberExists,
					"user %s is already a member of pool %s", in.UserID, pool)
			}
			return err
		}
		return tx.Model(&poolModel{}).
			Where("id = ?", pool).
			Update("member_count", gorm.Expr("member_count + 1")).Error
	})
	if err != nil {
		return Member{}, ormErr(err, "add member")
	}
	return model.toAPI(), nil
}

func (s *GormStore) ListMembers(ctx context.Context, pool uuid.UUID) ([]Member, error) {
	if _, err := s.GetPool(ctx, pool); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var models []memberModel
	if err := s.orm.WithContext(ctx).Where("pool_id = ?", pool).Order("joined_at ASC").Find(&models).Error; err != nil {
		return nil, ormErr(err, "list members")
	}
	return membersToAPI(models), nil
}

func (s *GormStore) GetMember(ctx context.Context, pool, user uuid.UUID) (Member, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model memberModel
	err := s.orm.WithContext(ctx).First(&model, "pool_id = ? AND user_id = ?", pool, user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, memberNotFound(pool, user)
	}
	if err != nil {
		return Member{}, ormErr(err, "get member")
	}
	return model.toAPI(), nil
}

func (s *GormStore) RemoveMember(ctx context.Context, pool, user uuid.UUID) (Member, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model memberModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return removeMembership(tx, pool, user, &model)
	})
	if err != nil {
		return Member{}, ormErr(err, "remove member")
	}
	return model.toAPI(), nil
}

func removeMembership(tx *gorm.DB, pool, user uuid.UUID, out *memberModel) error {
	res := tx.Clauses(clause.Returning{}).
		Where("pool_id = ? AND user_id = ?", pool, user).
		Delete(out)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return memberNotFound(pool, user)
	}
	return tx.Model(&poolModel{}).
		Where("id = ?", pool).
		Update("member_count", gorm.Expr("GREATEST(member_count - 1, 0)")).Error
}

func (s *GormStore) UserMemberships(ctx context.Context, user uuid.UUID) ([]Member, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var models []memberModel
	if err := s.orm.WithContext(ctx).Where("user_id = ?", user).Order("joined_at ASC").Find(&models).Error; err != nil {
		return nil, ormErr(err, "list user memberships")
	}
	return membersToAPI(models), nil
}

func (s *GormStore) RemoveUser(ctx context.Context, user uuid.UUID) ([]Member, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var removed []memberModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberships []memberModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", user).
			Find(&memberships).Error; err != nil {
			return err
		}
		if len(memberships) == 0 {
			return apperr.NotFound(apperr.CodeMemberNotFound, "user %s is not in any pool", user)
		}
		for _, m := range memberships {
			var out memberModel
			if err := removeMembership(tx, m.PoolID, user, &out); err != nil {
				return err
			}
			removed = append(removed, out)
		}
		return nil
	})
	if err != nil {
		return nil, ormErr(err, "remove user")
	}
	return membersToAPI(removed), nil
}

func membersToAPI(models []memberModel) []Member {
	out := make([]Member, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out
}
