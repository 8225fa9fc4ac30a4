// Package notify decides whether and how a finished run is delivered
// to its recipients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mkalnins/sswatch/internal/mail"
	"github.com/mkalnins/sswatch/internal/report"
)

// ErrDeliveryFailed wraps a send that failed after its retry budget.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Sender submits a message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) (string, error)
}

// Stager uploads an oversized artifact and returns a link to it.
type Stager interface {
	Stage(ctx context.Context, taskName, artifactPath string) (string, error)
}

// Options tunes delivery policy.
type Options struct {
	// SuppressEmpty skips delivery when the run found no changes.
	SuppressEmpty bool
	// DefaultRecipients receive the report when the task does not
	// declare its own list.
	DefaultRecipients []string
	// MaxRetries is the number of re-sends after the first failure.
	MaxRetries int
	// RetryBackoff is the base delay between send attempts.
	RetryBackoff time.Duration
	// AttachmentThreshold is the artifact size, in bytes, above which
	// the report is staged remotely instead of attached.
	AttachmentThreshold int64
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.AttachmentThreshold <= 0 {
		o.AttachmentThreshold = 512 << 10
	}
	return o
}

// Result describes what the notifier did with a run.
type Result struct {
	Status    string
	MessageID string
}

const (
	// StatusSent means the provider accepted the message.
	StatusSent = "sent"
	// StatusSuppressed means an empty diff was not delivered.
	StatusSuppressed = "suppressed"
)

// Notifier applies delivery policy on top of a Sender.
type Notifier struct {
	sender Sender
	stager Stager
	opts   Options
	logger *slog.Logger
}

// New creates a Notifier. stager may be nil, in which case reports are
// always attached regardless of size.
func New(sender Sender, stager Stager, opts Options, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		stager: stager,
		opts:   opts.withDefaults(),
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the artifact to recipients. An empty diff is
// suppressed when the policy says so, unless force is set. A failure
// after the retry budget returns an error wrapping ErrDeliveryFailed.
func (n *Notifier) Notify(ctx context.Context, taskName string, recipients []string, artifact *report.Artifact, force bool) (Result, error) {
	if artifact.Diff.Empty() && n.opts.SuppressEmpty && !force {
		n.logger.Info("notification suppressed", slog.String("task", taskName))
		return Result{Status: StatusSuppressed}, nil
	}

	if len(recipients) == 0 {
		recipients = n.opts.DefaultRecipients
	}
	if len(recipients) == 0 {
		return Result{}, fmt.Errorf("%w: no recipients configured for task %q", ErrDeliveryFailed, taskName)
	}

	msg, err := n.buildMessage(ctx, taskName, recipients, artifact)
	if err != nil {
		return Result{}, err
	}

	var messageID string
	backoff := retry.WithMaxRetries(uint64(n.opts.MaxRetries), retry.NewConstant(n.opts.RetryBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, sendErr := n.sender.Send(ctx, msg)
		if sendErr != nil {
			if !retryable(sendErr) {
				return sendErr
			}
			n.logger.Warn("send attempt failed",
				slog.String("task", taskName),
				slog.Any("error", sendErr),
			)
			return retry.RetryableError(sendErr)
		}
		messageID = id
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	n.logger.Info("notification sent",
		slog.String("task", taskName),
		slog.String("message_id", messageID),
		slog.Int("recipients", len(recipients)),
	)
	return Result{Status: StatusSent, MessageID: messageID}, nil
}

// retryable reports whether a send failure can improve on retry. A 4xx
// from the provider (bad key, rejected message) will fail the same way
// again; 429 and everything else is worth another attempt.
func retryable(err error) bool {
	var apiErr *mail.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.StatusCode < 400 || apiErr.StatusCode >= 500
	}
	return true
}

func (n *Notifier) buildMessage(ctx context.Context, taskName string, recipients []string, artifact *report.Artifact) (mail.Message, error) {
	msg := mail.Message{
		To:      recipients,
		Subject: artifact.Summary,
	}

	if n.stager != nil && artifact.Size > n.opts.AttachmentThreshold {
		link, err := n.stager.Stage(ctx, taskName, artifact.Path)
		if err != nil {
			return mail.Message{}, fmt.Errorf("staging oversized report: %w", err)
		}
		msg.Text = fmt.Sprintf("%s\n\nThe full report is too large to attach. Download it here:\n%s\n", artifact.Summary, link)
		return msg, nil
	}

	content, err := os.ReadFile(artifact.Path)
	if err != nil {
		return mail.Message{}, fmt.Errorf("reading report for delivery: %w", err)
	}
	msg.Text = string(content)
	msg.Attachment = &mail.Attachment{
		Filename: filepath.Base(artifact.Path),
		Content:  content,
	}
	return msg, nil
}
