package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/middleware"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/routeros"
	"github.com/routefleet/backend/internal/services"
)

type RestoreHandler struct {
	restoreService *services.RestoreService
	auditService   *services.AuditService
}

func NewRestoreHandler(restoreService *services.RestoreService, auditService *services.AuditService) *RestoreHandler {
	return &RestoreHandler{
		restoreService: restoreService,
		auditService:   auditService,
	}
}

// TriggerRestore pushes a stored backup back onto a device
func (h *RestoreHandler) TriggerRestore(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup id"})
		return
	}

	var req struct {
		DeviceID         string `json:"device_id"`
		Kind             string `json:"kind"`
		SkipSafetyBackup bool   `json:"skip_safety_backup"`
	}
	_ = c.ShouldBindJSON(&req)

	opts := services.DefaultRestoreOptions()
	if req.SkipSafetyBackup {
		opts.CreateSafetyBackup = false
	}
	if req.Kind != "" {
		if req.Kind != models.RestoreKindFull && req.Kind != models.RestoreKindPartial {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid restore kind"})
			return
		}
		opts.Kind = req.Kind
	}

	// The target defaults to the backup's own device; a different device id
	// performs a cross-device restore (replacement hardware).
	var targetDeviceID uuid.UUID
	if req.DeviceID != "" {
		targetDeviceID, err = uuid.Parse(req.DeviceID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
			return
		}
	}

	restore, err := h.restoreService.RunRestore(c.Request.Context(), backupID, targetDeviceID, opts)
	if err != nil && restore == nil {
		switch {
		case errors.Is(err, services.ErrBackupNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
		case errors.Is(err, services.ErrDeviceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		case errors.Is(err, services.ErrBackupNotRestorable):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrDeviceBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "Device has a run in progress"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start restore"})
		}
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "trigger_restore", "backup", backupID, map[string]interface{}{
			"restore_id": restore.ID,
			"status":     restore.Status,
		}, c.ClientIP())
	}

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
	c.JSON(status, gin.H{"restore": restore})
}

// GetAllRestores lists restore runs, optionally scoped to a device
func (h *RestoreHandler) GetAllRestores(c *gin.Context) {
	offset, limit, page := pagination(c)

	var deviceID *uuid.UUID
	if raw := c.Query("device_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
			return
		}
		deviceID = &id
	}

	restores, total, err := h.restoreService.ListRestores(deviceID, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve restores"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"restores": restores,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetRestore retrieves one restore record
func (h *RestoreHandler) GetRestore(c *gin.Context) {
	restoreID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid restore id"})
		return
	}

	restore, err := h.restoreService.GetRestoreByID(restoreID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Restore not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"restore": restore})
}
