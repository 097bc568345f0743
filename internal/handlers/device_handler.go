package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/middleware"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/routeros"
	"github.com/routefleet/backend/internal/services"
	"github.com/routefleet/backend/pkg/validation"
)

type DeviceHandler struct {
	deviceService *services.DeviceService
	backupService *services.BackupService
	auditService  *services.AuditService
}

func NewDeviceHandler(deviceService *services.DeviceService, backupService *services.BackupService, auditService *services.AuditService) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		backupService: backupService,
		auditService:  auditService,
	}
}

func pagination(c *gin.Context) (offset, limit, page int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return (page - 1) * limit, limit, page
}

// GetAllDevices lists devices with pagination
func (h *DeviceHandler) GetAllDevices(c *gin.Context) {
	offset, limit, page := pagination(c)

	var companyID *uuid.UUID
	if raw := c.Query("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid company id"})
			return
		}
		companyID = &id
	}

	devices, total, err := h.deviceService.ListDevices(companyID, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetDevice retrieves one device
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
		return
	}

	device, err := h.deviceService.GetDeviceByID(deviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// CreateDevice registers a new device
func (h *DeviceHandler) CreateDevice(c *gin.Context) {
	var req struct {
		CompanyID           string `json:"company_id" binding:"required"`
		Name                string `json:"name" binding:"required"`
		Host                string `json:"host" binding:"required"`
		Port                int    `json:"port"`
		Username            string `json:"username" binding:"required"`
		Password            string `json:"password" binding:"required"`
		Model               string `json:"model"`
		Notes               string `json:"notes"`
		BackupEnabled       bool   `json:"backup_enabled"`
		BackupIntervalHours int    `json:"backup_interval_hours"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid company id"})
		return
	}
	if !validation.ValidateHost(req.Host) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid host"})
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}
	if !validation.ValidatePort(req.Port) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid port"})
		return
	}
	if req.BackupIntervalHours == 0 {
		req.BackupIntervalHours = 24
	}

	device := &models.Device{
		CompanyID:           companyID,
		Name:                req.Name,
		Host:                req.Host,
		Port:                req.Port,
		Username:            req.Username,
		Password:            req.Password,
		Model:               req.Model,
		Notes:               req.Notes,
		BackupEnabled:       req.BackupEnabled,
		BackupIntervalHours: req.BackupIntervalHours,
	}

	if err := h.deviceService.CreateDevice(device); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "create_device", "device", device.ID, nil, c.ClientIP())
	}

	c.JSON(http.StatusCreated, gin.H{"device": device})
}

// UpdateDevice applies partial updates to a device
func (h *DeviceHandler) UpdateDevice(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
		return
	}

	var req struct {
		Name                *string `json:"name"`
		Host                *string `json:"host"`
		Port                *int    `json:"port"`
		Username            *string `json:"username"`
		Password            *string `json:"password"`
		Model               *string `json:"model"`
		Notes               *string `json:"notes"`
		BackupEnabled       *bool   `json:"backup_enabled"`
		BackupIntervalHours *int    `json:"backup_interval_hours"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Host != nil {
		if !validation.ValidateHost(*req.Host) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid host"})
			return
		}
		updates["host"] = *req.Host
	}
	if req.Port != nil {
		if !validation.ValidatePort(*req.Port) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid port"})
			return
		}
		updates["port"] = *req.Port
	}
	if req.Username != nil {
		updates["username"] = *req.Username
	}
	if req.Password != nil {
		updates["password"] = *req.Password
	}
	if req.Model != nil {
		updates["model"] = *req.Model
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.BackupEnabled != nil {
		updates["backup_enabled"] = *req.BackupEnabled
	}
	if req.BackupIntervalHours != nil {
		updates["backup_interval_hours"] = *req.BackupIntervalHours
	}

	device, err := h.deviceService.UpdateDevice(deviceID, updates)
	if err != nil {
		if errors.Is(err, services.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// DeleteDevice removes a device from the fleet
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
		return
	}

	if err := h.deviceService.DeleteDevice(deviceID); err != nil {
		if errors.Is(err, services.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete device"})
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "delete_device", "device", deviceID, nil, c.ClientIP())
	}

	c.JSON(http.StatusOK, gin.H{"message": "Device deleted"})
}

// TriggerBackup starts a backup run for the device and returns the record
func (h *DeviceHandler) TriggerBackup(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
		return
	}

	var req struct {
		Kind    string `json:"kind"`
		Compact bool   `json:"compact"`
	}
	// Body is optional; defaults produce a full export backup.
	_ = c.ShouldBindJSON(&req)

	if req.Kind != "" && req.Kind != models.BackupKindExport && req.Kind != models.BackupKindBinary {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup kind"})
		return
	}

	backup, err := h.backupService.RunBackup(c.Request.Context(), deviceID, services.BackupOptions{
		Kind:    req.Kind,
		Compact: req.Compact,
		Trigger: models.TriggerManual,
	})
	if err != nil && backup == nil {
		switch {
		case errors.Is(err, services.ErrDeviceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		case errors.Is(err, services.ErrDeviceBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "Device has a run in progress"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start backup"})
		}
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "trigger_backup", "device", deviceID, map[string]interface{}{
			"backup_id": backup.ID,
			"status":    backup.Status,
		}, c.ClientIP())
	}

	// A failed run still has a persisted, reportable record.
	status := http.StatusOK
	if err != nil {
		var connErr *routeros.ConnectionError
		var cmdErr *routeros.CommandError
		if errors.As(err, &connErr) || errors.As(err, &cmdErr) {
			status = http.StatusBadGateway
		} else {
			status = http.StatusInternalServerError
		}
	}
	c.JSON(status, gin.H{"backup": backup})
}

// GetDeviceBackups lists the backups of one device
func (h *DeviceHandler) GetDeviceBackups(c *gin.Context) {
	deviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
		return
	}

	offset, limit, page := pagination(c)
	filter := services.BackupFilter{DeviceID: &deviceID, Status: c.Query("status")}

	backups, total, err := h.backupService.ListBackups(filter, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve backups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backups": backups,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}
