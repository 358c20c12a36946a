// Package notify delivers overdue notices to patrons. The server's
// background sweep hands it one notice per overdue loan; delivery is
// best effort and never blocks circulation.
package notify

import "log/slog"

// Notifier sends one overdue notice.
type Notifier interface {
	SendOverdueNotice(toEmail, patronName, title, dueDate string) error
}

// LogNotifier records notices in the log instead of delivering them,
// for deployments without an SMTP relay.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendOverdueNotice(toEmail, patronName, title, dueDate string) error {
	slog.Info("overdue notice",
		"to", toEmail,
		"patron", patronName,
		"title", title,
		"due", dueDate,
	)
	return nil
}
