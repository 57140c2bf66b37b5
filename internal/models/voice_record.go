package models

import "time"

type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTranscribing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// VoiceRecord describes one transcription or synthesis artifact. The audio
// or text itself lives on disk at FilePath; only metadata is stored here.
type VoiceRecord struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Filename     string    `gorm:"column:filename" json:"filename"`
	FileType     string    `gorm:"column:filetype" json:"filetype"`
	Duration     float64   `gorm:"column:duration" json:"duration"`
	Size         int64     `gorm:"column:size" json:"size"`
	CreatedAt    time.Time `gorm:"column:createtime;autoCreateTime" json:"createtime"`
	FilePath     string    `gorm:"column:filepath" json:"filepath"`
	Transcript   *string   `gorm:"column:transcript" json:"transcript"`
	Language     *string   `gorm:"column:language" json:"language"`
	Status       Status    `gorm:"column:status" json:"status"`
	ErrorMessage *string   `gorm:"column:error_message" json:"error_message"`
	ParentID     *uint     `gorm:"column:parent_id" json:"parent_id"`

	Tags []Tag `gorm:"many2many:voice_record_tags" json:"tags"`
}

func (VoiceRecord) TableName() string { return "voice_record" }

type Tag struct {
	ID  uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Tag string `gorm:"column:tag" json:"tag"`
}

func (Tag) TableName() string { return "tags" }

type VoiceRecordTag struct {
	VoiceRecordID uint `gorm:"column:voice_record_id;primaryKey"`
	TagID         uint `gorm:"column:tag_id;primaryKey"`
}

func (VoiceRecordTag) TableName() string { return "voice_record_tags" }

// StrPtr is a small helper for the nullable text columns.
func StrPtr(s string) *string { return &s }
