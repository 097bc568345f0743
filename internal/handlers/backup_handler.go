package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/middleware"
	"github.com/routefleet/backend/internal/services"
)

// maxDownloadURLExpiry caps presigned download links.
const maxDownloadURLExpiry = 24 * time.Hour

type BackupHandler struct {
	backupService *services.BackupService
	auditService  *services.AuditService
}

func NewBackupHandler(backupService *services.BackupService, auditService *services.AuditService) *BackupHandler {
	return &BackupHandler{
		backupService: backupService,
		auditService:  auditService,
	}
}

// GetAllBackups lists backups across the fleet with optional filters
func (h *BackupHandler) GetAllBackups(c *gin.Context) {
	offset, limit, page := pagination(c)

	filter := services.BackupFilter{
		Status:  c.Query("status"),
		Trigger: c.Query("trigger"),
	}
	if raw := c.Query("device_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
			return
		}
		filter.DeviceID = &id
	}
	if raw := c.Query("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid company id"})
			return
		}
		filter.CompanyID = &id
	}
	if raw := c.Query("pinned"); raw != "" {
		pinned, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pinned value"})
			return
		}
		filter.Pinned = &pinned
	}

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

// GetBackupStats returns fleet-wide backup statistics
func (h *BackupHandler) GetBackupStats(c *gin.Context) {
	stats, err := h.backupService.GetBackupStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetBackup retrieves one backup record
func (h *BackupHandler) GetBackup(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup id"})
		return
	}

	backup, err := h.backupService.GetBackupByID(backupID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backup": backup})
}

// GetDownloadURL returns a time-limited link to the stored artifact
func (h *BackupHandler) GetDownloadURL(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup id"})
		return
	}

	expiry := time.Hour
	if raw := c.Query("expires_in"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expires_in value"})
			return
		}
		expiry = time.Duration(seconds) * time.Second
	}
	if expiry > maxDownloadURLExpiry {
		expiry = maxDownloadURLExpiry
	}

	url, err := h.backupService.DownloadURL(c.Request.Context(), backupID, expiry)
	if err != nil {
		if errors.Is(err, services.ErrBackupNotFound) || errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate download link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_in": int(expiry.Seconds()),
	})
}

// PinBackup exempts a backup from retention sweeps
func (h *BackupHandler) PinBackup(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup id"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	backup, err := h.backupService.Pin(backupID, req.Reason)
	if err != nil {
		if errors.Is(err, services.ErrBackupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "pin_backup", "backup", backupID, map[string]interface{}{
			"reason": req.Reason,
		}, c.ClientIP())
	}

	c.JSON(http.StatusOK, gin.H{"backup": backup})
}

// UnpinBackup makes a backup eligible for retention again
func (h *BackupHandler) UnpinBackup(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid backup id"})
		return
	}

	backup, err := h.backupService.Unpin(backupID)
	if err != nil {
		if errors.Is(err, services.ErrBackupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unpin backup"})
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "unpin_backup", "backup", backupID, nil, c.ClientIP())
	}

	c.JSON(http.StatusOK, gin.H{"backup": backup})
}
