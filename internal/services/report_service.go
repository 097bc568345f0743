package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/routefleet/backend/internal/config"
	"github.com/routefleet/backend/internal/models"
	qrcode "github.com/skip2/go-qrcode"
)

type ReportService struct {
	cfg *config.Config
}

func NewReportService(cfg *config.Config) *ReportService {
	return &ReportService{cfg: cfg}
}

// GenerateFleetReportPDF renders a device inventory with last-backup status
func (s *ReportService) GenerateFleetReportPDF(devices []*models.Device, stats map[string]interface{}) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, "Fleet Backup Report")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated %s", time.Now().UTC().Format("2006-01-02 15:04 MST")))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 7, "Summary")
	pdf.Ln(7)
	pdf.SetFont("Arial", "", 10)
	for _, key := range []string{"total_backups", "completed_backups", "failed_backups", "pinned_backups", "total_size_bytes"} {
		if v, ok := stats[key]; ok {
			pdf.Cell(0, 5, fmt.Sprintf("%s: %v", key, v))
			pdf.Ln(5)
		}
	}
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 7, "Devices")
	pdf.Ln(7)

	// Table header
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(50, 6, "Name", "1", 0, "L", false, 0, "")
	pdf.CellFormat(45, 6, "Host", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 6, "Scheduled", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Last Backup", "1", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, d := range devices {
		scheduled := "no"
		if d.BackupEnabled {
			scheduled = fmt.Sprintf("every %dh", d.BackupIntervalHours)
		}
		lastBackup := "never"
		if d.LastBackupAt != nil {
			lastBackup = d.LastBackupAt.UTC().Format("2006-01-02 15:04")
		}
		pdf.CellFormat(50, 6, d.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, d.Host, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, scheduled, "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, lastBackup, "1", 1, "L", false, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// GenerateDeviceCardPDF renders an access card for a device with a QR code
// of its management address
func (s *ReportService) GenerateDeviceCardPDF(device *models.Device) ([]byte, error) {
	mgmtURL := fmt.Sprintf("ssh://%s@%s:%d", device.Username, device.Host, device.Port)

	png, err := qrcode.Encode(mgmtURL, qrcode.Medium, 512)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, device.Name)
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 6, fmt.Sprintf("Host: %s\nPort: %d\nModel: %s", device.Host, device.Port, device.Model), "", "L", false)

	opt := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(png))

	// Center QR on the page
	x := (210.0 - 100.0) / 2.0
	y := pdf.GetY() + 10
	pdf.ImageOptions("qr", x, y, 100, 100, false, opt, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
