package services

import (
	"context"
	"errors"

	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
	"github.com/yoockh/voicelab/internal/utils"
)

type VoiceRecordService interface {
	List(ctx context.Context, status, tag string) ([]models.VoiceRecord, error)
	Get(ctx context.Context, id uint) (*models.VoiceRecord, error)
}

type voiceRecordService struct {
	records sqldb.VoiceRecordRepository
}

func NewVoiceRecordService(records sqldb.VoiceRecordRepository) VoiceRecordService {
	return &voiceRecordService{records: records}
}

func (s *voiceRecordService) List(ctx context.Context, status, tag string) ([]models.VoiceRecord, error) {
	const op = "VoiceRecordService.List"

	st := models.Status(status)
	if st != "" && !st.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "unknown status "+status, nil)
	}

	out, err := s.records.List(ctx, sqldb.ListFilter{Status: st, Tag: tag})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list voice records", err)
	}
	if out == nil {
		out = []models.VoiceRecord{}
	}
	return out, nil
}

func (s *voiceRecordService) Get(ctx context.Context, id uint) (*models.VoiceRecord, error) {
	const op = "VoiceRecordService.Get"

	if id == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "id is required", nil)
	}
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "Voice record not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get voice record", err)
	}
	return rec, nil
}
