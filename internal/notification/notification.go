package notification

import (
	"context"
	"log/slog"
)

const (
	// KindDepositCompleted indicates funds landed in an account.
	KindDepositCompleted = "deposit_completed"
	// KindWithdrawalFailed indicates a payout failed and the hold was released.
	KindWithdrawalFailed = "withdrawal_failed"
	// KindTransferPending indicates a transfer awaits recipient confirmation.
	KindTransferPending = "transfer_pending_confirmation"
	// KindTransferCompleted indicates a transfer settled.
	KindTransferCompleted = "transfer_completed"
	// KindTransferCancelled indicates a pending transfer was cancelled or expired.
	KindTransferCancelled = "transfer_cancelled"
)

// Message describes a notification payload.
type Message struct {
	Kind          string
	TransactionID string
	Destination   string
	Body          string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"transaction_id", message.TransactionID,
		"destination", message.Destination,
		"body", message.Body)
	return nil
}
