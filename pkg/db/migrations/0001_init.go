package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Pool struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	Location    *string   `gorm:"type:text;index"`
	MemberCount int       `gorm:"not null;default:0;check:chk_pools_member_count,member_count >= 0"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type PoolMember struct {
	PoolID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	CoordX   *float64  `gorm:"type:double precision"`
	CoordY   *float64  `gorm:"type:double precision"`
	JoinedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Pool     Pool      `gorm:"foreignKey:PoolID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Match struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PoolID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_pool_pair,priority:1"`
	User1ID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_pool_pair,priority:2;index"`
	User2ID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_pool_pair,priority:3;index"`
	Status    string    `gorm:"type:text;not null;default:'waiting'"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Pool      Pool      `gorm:"foreignKey:PoolID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type MatchDecision struct {
	MatchID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Decision  string    `gorm:"type:text;not null"`
	DecidedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
	Match     Match     `gorm:"foreignKey:MatchID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

// Canonical pair order and the allowed status/decision values live in the
// schema so that administrative writes cannot bypass them.
var checks = []string{
	`ALTER TABLE matches ADD CONSTRAINT chk_matches_canonical CHECK (user1_id < user2_id)`,
	`ALTER TABLE matches ADD CONSTRAINT chk_matches_status CHECK (status IN ('waiting', 'accepted', 'rejected'))`,
	`ALTER TABLE match_decisions ADD CONSTRAINT chk_decisions_value CHECK (decision IN ('accept', 'reject'))`,
	`CREATE INDEX IF NOT EXISTS idx_matches_pool_created ON matches (pool_id, created_at DESC)`,
}

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Pool{},
		&PoolMember{},
		&Match{},
		&MatchDecision{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	relations := []struct {
		model any
		name  string
	}{
		{&PoolMember{}, "Pool"},
		{&Match{}, "Pool"},
		{&MatchDecision{}, "Match"},
	}
	for _, rel := range relations {
		if m.HasConstraint(rel.model, rel.name) {
			continue
		}
		if err := m.CreateConstraint(rel.model, rel.name); err != nil {
			return err
		}
	}

	for _, stmt := range checks {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&MatchDecision{},
		&Match{},
		&PoolMember{},
		&Pool{},
	)
}
