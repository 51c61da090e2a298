package appfoliosync

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"github.com/rilaconsulting/pmpulse-sub006/config"
	"github.com/rilaconsulting/pmpulse-sub006/models"
	"github.com/rilaconsulting/pmpulse-sub006/utils"
)

// Notifier delivers failure-streak alerts to operators.
type Notifier interface {
	NotifyFailureStreak(ctx context.Context, alert models.SyncFailureAlert, run models.SyncRun) error
}

// SMTPNotifier sends alert mail through a plain SMTP relay. All settings come
// from the environment; an empty host disables delivery, which keeps local
// development quiet.
type SMTPNotifier struct {
	host     string
	port     string
	username string
	password string
	from     string
	to       []string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier() *SMTPNotifier {
	port := strings.TrimSpace(os.Getenv("SMTP_PORT"))
	if port == "" {
		port = "587"
	}
	var to []string
	for _, addr := range strings.Split(os.Getenv("ALERT_RECIPIENTS"), ",") {
		if addr = strings.TrimSpace(addr); addr == "" {
			continue
		}
		if !utils.IsValidEmail(addr) {
			config.GetLogger().WithField("recipient", addr).Warn("dropping malformed alert recipient")
			continue
		}
		to = append(to, addr)
	}
	return &SMTPNotifier{
		host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		port:     port,
		username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
		to:       to,
		send:     smtp.SendMail,
	}
}

func (n *SMTPNotifier) NotifyFailureStreak(ctx context.Context, alert models.SyncFailureAlert, run models.SyncRun) error {
	if n.host == "" || len(n.to) == 0 {
		return nil
	}

	subject, body := failureStreakMessage(alert, run)
	msg := buildMessage(n.from, n.to, subject, body)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}
	return n.send(n.host+":"+n.port, auth, n.from, n.to, msg)
}

// failureStreakMessage composes the alert copy. The tone stays factual so
// the mail reads well in a pager digest.
func failureStreakMessage(alert models.SyncFailureAlert, run models.SyncRun) (string, string) {
	subject := fmt.Sprintf("AppFolio sync has failed %d times in a row", alert.ConsecutiveFailures)

	var b strings.Builder
	fmt.Fprintf(&b, "The AppFolio data sync has now failed %d consecutive times.\n\n", alert.ConsecutiveFailures)
	fmt.Fprintf(&b, "Most recent run: #%d\n", run.ID)
	fmt.Fprintf(&b, "Error code: %s\n", run.ErrorCode)
	if run.ErrorSummary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", run.ErrorSummary)
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Failed at: %s\n", run.CompletedAt.UTC().Format("2006-01-02 15:04 MST"))
	}

	history := models.DecodeFailureHistory(alert.HistoryJSON)
	if len(history) > 1 {
		b.WriteString("\nRecent failures:\n")
		for i := len(history) - 1; i >= 0; i-- {
			entry := history[i]
			fmt.Fprintf(&b, "  run #%d  %s  %s\n", entry.RunId, entry.FailedAt.UTC().Format("2006-01-02 15:04"), entry.ErrorCode)
		}
	}

	if base := strings.TrimSpace(os.Getenv("DASHBOARD_BASE_URL")); base != "" {
		fmt.Fprintf(&b, "\nReview and acknowledge: %s/sync/runs/%d\n", strings.TrimRight(base, "/"), run.ID)
	}
	b.WriteString("\nNo further mail will be sent for this streak until the cooldown lapses or the alert is acknowledged.\n")

	return subject, b.String()
}

func buildMessage(from string, to []string, subject string, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
