package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/middleware"
	"github.com/routefleet/backend/internal/services"
)

type AdminHandler struct {
	deviceService *services.DeviceService
	backupService *services.BackupService
	reportService *services.ReportService
	auditService  *services.AuditService
}

func NewAdminHandler(deviceService *services.DeviceService, backupService *services.BackupService, reportService *services.ReportService, auditService *services.AuditService) *AdminHandler {
	return &AdminHandler{
		deviceService: deviceService,
		backupService: backupService,
		reportService: reportService,
		auditService:  auditService,
	}
}

// GetAuditLogs lists recent audit entries
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	offset, limit, page := pagination(c)

	var userID *uuid.UUID
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}
		userID = &id
	}

	logs, total, err := h.auditService.GetRecentActions(offset, limit, userID, c.Query("action"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": logs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetCompanies lists all companies
func (h *AdminHandler) GetCompanies(c *gin.Context) {
	companies, err := h.deviceService.ListCompanies()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve companies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"companies": companies})
}

// CreateCompany registers a company, returning the existing one on a name match
func (h *AdminHandler) CreateCompany(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	company, err := h.deviceService.EnsureCompany(req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create company"})
		return
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "create_company", "company", company.ID, nil, c.ClientIP())
	}

	c.JSON(http.StatusCreated, gin.H{"company": company})
}

// RunRetentionSweep applies the retention policy across all devices
func (h *AdminHandler) RunRetentionSweep(c *gin.Context) {
	devices, _, err := h.deviceService.ListDevices(nil, 0, 10000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve devices"})
		return
	}

	pruned := 0
	for _, device := range devices {
		n, err := h.backupService.ApplyRetention(c.Request.Context(), device.ID)
		pruned += n
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  fmt.Sprintf("Retention sweep failed on device %s", device.Name),
				"pruned": pruned,
			})
			return
		}
	}

	if userID, ok := middleware.UserID(c); ok {
		_ = h.auditService.LogAction(userID, "retention_sweep", "fleet", uuid.Nil, map[string]interface{}{
			"pruned": pruned,
		}, c.ClientIP())
	}

	c.JSON(http.StatusOK, gin.H{"pruned": pruned})
}

// GetFleetReportPDF renders the fleet overview report
func (h *AdminHandler) GetFleetReportPDF(c *gin.Context) {
	devices, _, err := h.deviceService.ListDevices(nil, 0, 10000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve devices"})
		return
	}

	stats, err := h.backupService.GetBackupStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve stats"})
		return
	}

	pdf, err := h.reportService.GenerateFleetReportPDF(devices, stats)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate report"})
		return
	}

	filename := fmt.Sprintf("fleet-report-%s.pdf", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// GetDeviceCardPDF renders a printable access card for a device
func (h *AdminHandler) GetDeviceCardPDF(c *gin.Context) {
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

	pdf, err := h.reportService.GenerateDeviceCardPDF(device)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate device card"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=device-%s.pdf", device.Name))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
