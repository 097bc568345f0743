package services

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/models"
	"gorm.io/gorm"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// LogAction logs an operator action to the audit log
func (s *AuditService) LogAction(userID uuid.UUID, action, targetType string, targetID uuid.UUID, details map[string]interface{}, ipAddress string) error {
	detailsJSON := ""
	if details != nil {
		if jsonBytes, err := json.Marshal(details); err == nil {
			detailsJSON = string(jsonBytes)
		}
	}

	entry := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    detailsJSON,
		IPAddress:  ipAddress,
	}

	return s.db.Create(entry).Error
}

// GetRecentActions retrieves recent operator actions with pagination
func (s *AuditService) GetRecentActions(offset, limit int, userID *uuid.UUID, action string) ([]*models.AuditLog, int64, error) {
	query := s.db.Model(&models.AuditLog{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []*models.AuditLog
	if err := query.Preload("User").Offset(offset).Limit(limit).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
