package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/models"
	"gorm.io/gorm"
)

type DeviceService struct {
	db *gorm.DB
}

func NewDeviceService(db *gorm.DB) *DeviceService {
	return &DeviceService{db: db}
}

func (s *DeviceService) GetDB() *gorm.DB { return s.db }

// ListDevices retrieves devices with pagination, optionally scoped to a company.
func (s *DeviceService) ListDevices(companyID *uuid.UUID, offset, limit int) ([]*models.Device, int64, error) {
	query := s.db.Model(&models.Device{})
	if companyID != nil {
		query = query.Where("company_id = ?", *companyID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var devices []*models.Device
	if err := query.Offset(offset).Limit(limit).Order("name ASC").Find(&devices).Error; err != nil {
		return nil, 0, err
	}
	return devices, total, nil
}

// GetDeviceByID retrieves a device by ID
func (s *DeviceService) GetDeviceByID(deviceID uuid.UUID) (*models.Device, error) {
	var device models.Device
	if err := s.db.First(&device, "id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return &device, nil
}

// CreateDevice registers a new device
func (s *DeviceService) CreateDevice(device *models.Device) error {
	var existing models.Device
	err := s.db.Where("company_id = ? AND name = ?", device.CompanyID, device.Name).First(&existing).Error
	if err == nil {
		return errors.New("device name already in use")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(device).Error
}

// UpdateDevice applies the given field updates
func (s *DeviceService) UpdateDevice(deviceID uuid.UUID, updates map[string]interface{}) (*models.Device, error) {
	device, err := s.GetDeviceByID(deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(device).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetDeviceByID(deviceID)
}

// DeleteDevice removes a device. Its backup records stay for audit.
func (s *DeviceService) DeleteDevice(deviceID uuid.UUID) error {
	result := s.db.Delete(&models.Device{}, "id = ?", deviceID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ListDueForBackup returns devices whose scheduled backup interval elapsed.
func (s *DeviceService) ListDueForBackup(now time.Time) ([]*models.Device, error) {
	var devices []*models.Device
	err := s.db.Where("backup_enabled = ?", true).Find(&devices).Error
	if err != nil {
		return nil, err
	}

	due := devices[:0]
	for _, d := range devices {
		if d.BackupDue(now) {
			due = append(due, d)
		}
	}
	return due, nil
}

// EnsureCompany returns the company by name, creating it when absent.
func (s *DeviceService) EnsureCompany(name string) (*models.Company, error) {
	var company models.Company
	err := s.db.Where("name = ?", name).First(&company).Error
	if err == nil {
		return &company, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	company = models.Company{Name: name}
	if err := s.db.Create(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

// ListCompanies retrieves all companies, ordered by name.
func (s *DeviceService) ListCompanies() ([]*models.Company, error) {
	var companies []*models.Company
	if err := s.db.Order("name ASC").Find(&companies).Error; err != nil {
		return nil, err
	}
	return companies, nil
}
