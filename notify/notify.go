// Package notify hands verification and password-reset tokens to whatever
// delivers mail. The core never knows about templates or transports.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Kinds of notification.
const (
	KindVerification  = "verify-email"
	KindPasswordReset = "reset-password"
)

// Message is one notification request.
type Message struct {
	Audience    string `json:"audience"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Token       string `json:"token"`
}

// Notifier delivers tokens to principals.
type Notifier interface {
	SendVerification(ctx context.Context, msg Message) error
	SendPasswordReset(ctx context.Context, msg Message) error
}

// LogNotifier logs notifications without the token itself. It is the
// default for development setups without a mail pipeline.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerification(ctx context.Context, msg Message) error {
	n.log(ctx, KindVerification, msg)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, msg Message) error {
	n.log(ctx, KindPasswordReset, msg)
	return nil
}

func (n *LogNotifier) log(ctx context.Context, kind string, msg Message) {
	n.logger.InfoContext(ctx, "notification queued",
		"kind", kind,
		"audience", msg.Audience,
		"email", msg.Email,
		"token_fingerprint", Fingerprint(msg.Token),
	)
}

// Fingerprint returns a short digest of token for correlating logs without
// revealing it.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
