package migrations

import (
	"context"
	"database/sql"
	"time"

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

// Deployment is one registered Xnode. Services and heartbeat payloads are
// stored as the raw text the caller sent: the services blob is re-served to
// devices inside an HMAC envelope, so its bytes must survive storage intact.
type Deployment struct {
	ID                   string     `gorm:"type:text;primaryKey"`
	OwnerID              string     `gorm:"type:text;not null;index"`
	DeploymentAuth       string     `gorm:"type:text;not null;index"`
	AccessToken          string     `gorm:"type:text;not null"`
	IsUnit               bool       `gorm:"type:boolean;not null;default:false"`
	Name                 string     `gorm:"type:text"`
	Description          string     `gorm:"type:text"`
	Services             string     `gorm:"type:text"`
	HeartbeatData        string     `gorm:"type:text"`
	Status               string     `gorm:"type:text;not null"`
	IPAddress            string     `gorm:"type:text"`
	ConfigGenerationWant int64      `gorm:"type:bigint;not null;default:0"`
	ConfigGenerationHave int64      `gorm:"type:bigint;not null;default:0"`
	UpdateGenerationWant int64      `gorm:"type:bigint;not null;default:0"`
	UpdateGenerationHave int64      `gorm:"type:bigint;not null;default:0"`
	UnitClaimTime        *time.Time `gorm:"type:timestamptz"`
	CreatedAt            time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
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

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Deployment{},
		&Audit{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Deployment{},
	)
}
