package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/utils"
	"gorm.io/gorm"
)

// RecordUpdate is a partial update of a voice record. Nil fields are left
// untouched. AppendTranscript is concatenated onto the stored transcript.
type RecordUpdate struct {
	Status           *models.Status
	ErrorMessage     *string
	AppendTranscript string
	Size             *int64
	Duration         *float64
}

type ListFilter struct {
	Status models.Status
	Tag    string
}

type VoiceRecordRepository interface {
	Insert(ctx context.Context, r *models.VoiceRecord) error
	CreateWithTags(ctx context.Context, r *models.VoiceRecord, tags []string) error
	Update(ctx context.Context, id uint, u RecordUpdate) error
	MarkErrorByFilename(ctx context.Context, filename, message string) error
	MarkStale(ctx context.Context, olderThan time.Time, message string) (int64, error)
	List(ctx context.Context, f ListFilter) ([]models.VoiceRecord, error)
	GetByID(ctx context.Context, id uint) (*models.VoiceRecord, error)
	Delete(ctx context.Context, id uint) error
}

var nonTerminal = []models.Status{models.StatusPending, models.StatusTranscribing}

type voiceRecordRepo struct {
	db *gorm.DB
}

func NewVoiceRecordRepo(db *gorm.DB) VoiceRecordRepository {
	_ = db.SetupJoinTable(&models.VoiceRecord{}, "Tags", &models.VoiceRecordTag{})
	return &voiceRecordRepo{db: db}
}

func (r *voiceRecordRepo) Insert(ctx context.Context, rec *models.VoiceRecord) error {
	return insertRecord(r.db.WithContext(ctx), rec)
}

func (r *voiceRecordRepo) CreateWithTags(ctx context.Context, rec *models.VoiceRecord, tags []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertRecord(tx, rec); err != nil {
			return err
		}
		for _, t := range tags {
			tagID, err := upsertTag(tx, t)
			if err != nil {
				return err
			}
			if err := attachTag(tx, rec.ID, tagID); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRecord(db *gorm.DB, rec *models.VoiceRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	// Tags go through upsertTag/attachTag, never through association saves.
	err := db.Omit("Tags").Create(rec).Error
	if isUniqueViolation(err) {
		return fmt.Errorf("voice record %q: %w", rec.Filename, utils.ErrDuplicate)
	}
	return err
}

func validateRecord(rec *models.VoiceRecord) error {
	if rec.Filename == "" || rec.FilePath == "" || rec.FileType == "" {
		return errors.New("filename, filepath and filetype are required")
	}
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid status %q", rec.Status)
	}
	hasMsg := rec.ErrorMessage != nil
	if (rec.Status == models.StatusError) != hasMsg {
		return errors.New("error_message must be set exactly when status is error")
	}
	return nil
}

func (r *voiceRecordRepo) Update(ctx context.Context, id uint, u RecordUpdate) error {
	cols := map[string]any{}

	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("invalid status %q", *u.Status)
		}
		if (*u.Status == models.StatusError) != (u.ErrorMessage != nil) {
			return errors.New("error_message must be set exactly when status is error")
		}
		cols["status"] = *u.Status
	} else if u.ErrorMessage != nil {
		return errors.New("error_message can only be set together with status error")
	}
	if u.ErrorMessage != nil {
		cols["error_message"] = *u.ErrorMessage
	}
	if u.AppendTranscript != "" {
		cols["transcript"] = gorm.Expr("COALESCE(transcript, '') || ?", u.AppendTranscript)
	}
	if u.Size != nil {
		cols["size"] = *u.Size
	}
	if u.Duration != nil {
		cols["duration"] = *u.Duration
	}
	if len(cols) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).
		Model(&models.VoiceRecord{}).
		Where("id = ? AND status IN ?", id, nonTerminal).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.VoiceRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return utils.ErrNotFound
	}
	return utils.ErrTerminalState
}

func (r *voiceRecordRepo) MarkErrorByFilename(ctx context.Context, filename, message string) error {
	res := r.db.WithContext(ctx).
		Model(&models.VoiceRecord{}).
		Where("filename = ? AND status IN ?", filename, nonTerminal).
		Updates(map[string]any{"status": models.StatusError, "error_message": message})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *voiceRecordRepo) MarkStale(ctx context.Context, olderThan time.Time, message string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.VoiceRecord{}).
		Where("status IN ? AND createtime < ?", nonTerminal, olderThan).
		Updates(map[string]any{"status": models.StatusError, "error_message": message})
	return res.RowsAffected, res.Error
}

func (r *voiceRecordRepo) List(ctx context.Context, f ListFilter) ([]models.VoiceRecord, error) {
	q := r.db.WithContext(ctx).Preload("Tags").Order("id ASC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Tag != "" {
		q = q.Where("id IN (?)", r.db.
			Table("voice_record_tags").
			Select("voice_record_tags.voice_record_id").
			Joins("JOIN tags ON tags.id = voice_record_tags.tag_id").
			Where("tags.tag = ?", f.Tag))
	}

	var rows []models.VoiceRecord
	err := q.Find(&rows).Error
	return rows, err
}

func (r *voiceRecordRepo) GetByID(ctx context.Context, id uint) (*models.VoiceRecord, error) {
	var row models.VoiceRecord
	err := r.db.WithContext(ctx).Preload("Tags").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Delete removes a record; children and tag links go with it through the
// ON DELETE CASCADE foreign keys.
func (r *voiceRecordRepo) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.VoiceRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
