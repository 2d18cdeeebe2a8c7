package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"lead-talk/server/internal/model"
)

// sessionRecord 是会话在关系库中的行。
// 完整状态存在 State 列；其余列是便于查询和运营统计的冗余字段。
type sessionRecord struct {
	ID                   string  `gorm:"primaryKey;size:64"`
	ValidationState      string  `gorm:"size:32;index"`
	MeetingState         string  `gorm:"size:32;index"`
	ValidationScore      float64 `gorm:"not null;default:0"`
	MessageCount         int     `gorm:"not null;default:0"`
	CurrentIntent        string  `gorm:"size:32;index"`
	Email                string  `gorm:"size:320"`
	AppointmentLinkShown bool    `gorm:"not null;default:false"`
	State                datatypes.JSON
	Version              int64 `gorm:"not null;default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (sessionRecord) TableName() string { return "lead_sessions" }

// GormStore 是基于 gorm 的会话存储，支持 postgres 与 sqlite。
// Update 以 version 列做乐观锁，冲突时重读重试。
type GormStore struct {
	db *gorm.DB
}

// OpenGorm 按后端类型打开数据库连接。
func OpenGorm(backend, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch backend {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm backend: %s", backend)
	}

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", backend, err)
	}
	return db, nil
}

// NewGormStore 创建存储并迁移表结构。
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, state *model.SessionState) error {
	cp := state.Clone()
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt

	rec, err := toRecord(cp)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRecord{}).Where("id = ?", cp.SessionID).Count(&n).Error; err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if n > 0 {
			return ErrExists
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Get(ctx context.Context, id string) (*model.SessionState, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec)
}

func (s *GormStore) Update(ctx context.Context, id string, apply func(*model.SessionState) error) (*model.SessionState, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		state, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		if err := apply(state); err != nil {
			return nil, err
		}
		state.SessionID = id
		state.CreatedAt = rec.CreatedAt
		state.UpdatedAt = time.Now().UTC()

		next, err := toRecord(state)
		if err != nil {
			return nil, err
		}
		res := s.db.WithContext(ctx).Model(&sessionRecord{}).
			Where("id = ? AND version = ?", id, rec.Version).
			Updates(map[string]any{
				"validation_state":       next.ValidationState,
				"meeting_state":          next.MeetingState,
				"validation_score":       next.ValidationScore,
				"message_count":          next.MessageCount,
				"current_intent":         next.CurrentIntent,
				"email":                  next.Email,
				"appointment_link_shown": next.AppointmentLinkShown,
				"state":                  next.State,
				"version":                rec.Version + 1,
				"updated_at":             state.UpdatedAt,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("update session: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return state, nil
		}
	}
	return nil, ErrConflict
}

func (s *GormStore) load(ctx context.Context, id string) (*sessionRecord, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &rec, nil
}

func toRecord(state *model.SessionState) (*sessionRecord, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return &sessionRecord{
		ID:                   state.SessionID,
		ValidationState:      string(state.ValidationState),
		MeetingState:         string(state.MeetingState),
		ValidationScore:      state.ValidationScore,
		MessageCount:         state.MessageCount,
		CurrentIntent:        string(state.CurrentIntent),
		Email:                state.Email,
		AppointmentLinkShown: state.AppointmentLinkShown,
		State:                datatypes.JSON(raw),
		CreatedAt:            state.CreatedAt,
		UpdatedAt:            state.UpdatedAt,
	}, nil
}

func fromRecord(rec *sessionRecord) (*model.SessionState, error) {
	state, err := decodeState(rec.State)
	if err != nil {
		return nil, err
	}
	state.SessionID = rec.ID
	return state, nil
}
