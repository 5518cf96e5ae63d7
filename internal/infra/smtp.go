package infra

import (
	"fmt"
	"net/smtp"

	"stockpos/internal/config"
	"stockpos/internal/dto"

	"github.com/jordan-wright/email"
)

// Mailer wraps SMTP configuration for low-stock alert mails.
type Mailer struct {
	host     string
	user     string
	password string
	addr     string
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
	}
}

// LowStockMessage builds the alert mail without sending it.
func LowStockMessage(from, to string, ev dto.LowStockEvent) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{to}
	e.Subject = fmt.Sprintf("Estoque baixo: %s (%d)", ev.Name, ev.StockQuantity)
	e.Text = []byte(fmt.Sprintf(
		"Produto: %s\nID: %s\nEstoque atual: %d\nEstoque mínimo: %d\nVenda: %s\n",
		ev.Name, ev.ProductID, ev.StockQuantity, ev.MinStock, ev.ReferenceID,
	))
	return e
}

// SendLowStockAlert mails one low-stock event.
func (m *Mailer) SendLowStockAlert(to string, ev dto.LowStockEvent) error {
	if m.host == "" {
		return fmt.Errorf("mailer: SMTP_HOST not configured")
	}
	auth := smtp.PlainAuth("", m.user, m.password, m.host)
	return LowStockMessage(m.user, to, ev).Send(m.addr, auth)
}
