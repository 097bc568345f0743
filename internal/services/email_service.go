package services

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"

	"github.com/routefleet/backend/internal/config"
)

type EmailService struct {
	cfg *config.Config
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{cfg: cfg}
}

// SendBackupFailureAlert notifies the alert address about a failed backup run
func (s *EmailService) SendBackupFailureAlert(deviceName, host, reason, message string) {
	subject := fmt.Sprintf("Backup failed: %s", deviceName)
	body := fmt.Sprintf("Configuration backup for device %s (%s) failed.\n\nReason: %s\nDetails: %s\n\nCheck the device and the backup history in the dashboard.",
		deviceName, host, reason, message)
	s.sendAlert(subject, body)
}

// SendRestoreFailureAlert notifies the alert address about a failed restore run
func (s *EmailService) SendRestoreFailureAlert(deviceName, host, reason, message string) {
	subject := fmt.Sprintf("Restore failed: %s", deviceName)
	body := fmt.Sprintf("Configuration restore to device %s (%s) failed.\n\nReason: %s\nDetails: %s\n\nIf a safety backup was taken it is linked on the restore record for manual rollback.",
		deviceName, host, reason, message)
	s.sendAlert(subject, body)
}

func (s *EmailService) sendAlert(subject, body string) {
	if !s.cfg.AlertEmailEnabled || s.cfg.AlertEmailTo == "" || s.cfg.SMTPHost == "" {
		return
	}

	from := fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, s.cfg.SMTPFrom)
	message := fmt.Sprintf("From: %s\r\n", from)
	message += fmt.Sprintf("To: %s\r\n", s.cfg.AlertEmailTo)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "Content-Type: text/plain; charset=\"UTF-8\"\r\n"
	message += "\r\n"
	message += body

	if err := s.sendSMTP(s.cfg.AlertEmailTo, []byte(message)); err != nil {
		log.Printf("WARN: failed to send alert email: %v", err)
	}
}

// sendSMTP sends an email via SMTP, with implicit TLS on port 465
func (s *EmailService) sendSMTP(to string, message []byte) error {
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	if s.cfg.SMTPPort != 465 {
		return smtp.SendMail(addr, auth, s.cfg.SMTPFrom, []string{to}, message)
	}

	tlsConfig := &tls.Config{ServerName: s.cfg.SMTPHost}
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth failed: %w", err)
	}
	if err := client.Mail(s.cfg.SMTPFrom); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
