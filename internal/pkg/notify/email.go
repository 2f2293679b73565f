package notify

import (
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/pranith684/TaskFlow/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendWelcome 给新注册用户发送欢迎邮件。
//
// SMTP 未配置时直接跳过并返回 nil，注册流程不依赖邮件投递成功。
func (n *EmailNotifier) SendWelcome(toEmail string, name string) error {
	if n == nil || n.cfg == nil {
		return nil
	}
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		if n.logger != nil {
			n.logger.Debug("email config missing, skip welcome mail")
		}
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		if n.logger != nil {
			n.logger.Warn("email recipient empty, skip welcome mail")
		}
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskFlow] Welcome aboard")
	m.SetBody("text/html", n.buildWelcomeBody(name))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("welcome email sent", slog.String("to", toEmail))
	}
	return nil
}

func (n *EmailNotifier) buildWelcomeBody(name string) string {
	display := strings.TrimSpace(name)
	if display == "" {
		display = "there"
	}
	return fmt.Sprintf(`<div style="font-family:sans-serif">
<h2>Welcome to TaskFlow, %s!</h2>
<p>Your account is ready. Log in and start organising your tasks.</p>
</div>`, html.EscapeString(display))
}
