package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"flighthunter/internal/alert"
	"flighthunter/internal/config"
	"flighthunter/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	sender sender
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
		sender: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
	}
}

// Configured 报告 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// Send 发送邮件通知。SMTP 未配置或收件人为空时记录日志并跳过。
func (n *EmailNotifier) Send(ctx context.Context, report alert.Report, to string) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip notification",
			slog.Uint64("tracker_id", uint64(report.TrackerID)))
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if strings.TrimSpace(to) == "" {
		n.logger.Warn("email recipient empty, skip notification",
			slog.Uint64("tracker_id", uint64(report.TrackerID)))
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", Subject(report))
	m.SetBody("text/plain", RenderText(report))
	m.AddAlternative("text/html", RenderHTML(report))

	if err := n.sender.DialAndSend(m); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	n.logger.Info("email notification sent",
		slog.String("to", to),
		slog.Uint64("tracker_id", uint64(report.TrackerID)),
		slog.Bool("alert", report.Decision.Triggered))
	return nil
}
