package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yoockh/voicelab/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TagRepository interface {
	// Upsert returns the id of the tag with this text, creating it if needed.
	Upsert(ctx context.Context, text string) (uint, error)
	// Attach links a tag to a record; linking twice is a no-op.
	Attach(ctx context.Context, recordID, tagID uint) error
}

type tagRepo struct {
	db *gorm.DB
}

func NewTagRepo(db *gorm.DB) TagRepository {
	return &tagRepo{db: db}
}

func (r *tagRepo) Upsert(ctx context.Context, text string) (uint, error) {
	return upsertTag(r.db.WithContext(ctx), text)
}

func (r *tagRepo) Attach(ctx context.Context, recordID, tagID uint) error {
	return attachTag(r.db.WithContext(ctx), recordID, tagID)
}

// upsertTag is insert-or-ignore followed by a lookup, so concurrent callers
// with the same text all end up with the single surviving row.
func upsertTag(db *gorm.DB, text string) (uint, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("tag text is empty")
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tag"}},
		DoNothing: true,
	}).Create(&models.Tag{Tag: text}).Error
	if err != nil {
		return 0, fmt.Errorf("insert tag %q: %w", text, err)
	}

	var tag models.Tag
	if err := db.Where("tag = ?", text).Take(&tag).Error; err != nil {
		return 0, fmt.Errorf("lookup tag %q: %w", text, err)
	}
	return tag.ID, nil
}

func attachTag(db *gorm.DB, recordID, tagID uint) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.VoiceRecordTag{VoiceRecordID: recordID, TagID: tagID}).Error
}
