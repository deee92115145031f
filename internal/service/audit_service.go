package service

import (
	"context"
	"encoding/json"

	"emrcore/internal/model"
	"emrcore/internal/repository"

	"github.com/google/uuid"
)

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	ClinicID   string `json:"clinic_id,omitempty"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, clinicID *uuid.UUID, action string, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

func (s *auditService) GetAuditLogs(ctx context.Context, clinicID *uuid.UUID, action string, page, limit int) ([]AuditLogResponse, int64, error) {
	logs, total, err := s.repo.List(ctx, repository.AuditFilter{ClinicID: clinicID, Action: action}, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		item := AuditLogResponse{
			ID:         l.ID.String(),
			Username:   "System",
			Action:     l.Action,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			Details:    l.Details,
			CreatedAt:  l.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if l.User != nil {
			item.Username = l.User.Username
		}
		if l.UserID != nil {
			item.UserID = l.UserID.String()
		}
		if l.ClinicID != nil {
			item.ClinicID = l.ClinicID.String()
		}
		res = append(res, item)
	}
	return res, total, nil
}

// recordAudit writes an audit row through the transaction carried by ctx, if any.
func recordAudit(ctx context.Context, repo repository.AuditRepository, actor, clinicID *uuid.UUID, action, entityID, entityName string, details interface{}) error {
	payload := "{}"
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}
	return repo.Log(ctx, &model.AuditLog{
		UserID:     actor,
		ClinicID:   clinicID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    payload,
	})
}
