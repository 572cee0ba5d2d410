package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"vplan-notifier/pkg/timetable"
	"vplan-notifier/subjects"
)

// Renderer produces a captioned clip and returns its path. Template
// selection is the renderer's business.
type Renderer interface {
	Render(ctx context.Context, caption string) (string, error)
}

// Transport delivers outbound messages to a recipient.
type Transport interface {
	SendText(recipientID, text string) error
	SendVideo(recipientID, path, caption string) error
}

// DeliveryError reports that a notification could not be delivered on any
// channel. The caller must not mark its fingerprint as delivered.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsDeliveryError checks if an error is a failed delivery.
func IsDeliveryError(err error) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr)
}

// Dispatcher decides how a notification goes out: change rows get a rendered
// clip, everything else plain text. A failed render or a failed video send
// falls back to text; only a failed text send is a failed notification.
type Dispatcher struct {
	renderer  Renderer
	transport Transport
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(renderer Renderer, transport Transport, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{renderer: renderer, transport: transport, logger: logger}
}

// Dispatch sends exactly one outbound message for the row, or returns a
// DeliveryError having sent none.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID string, row *timetable.Row) error {
	caption := row.Caption()

	if !row.IsChange() {
		return d.sendText(recipientID, caption)
	}

	subject, kind := subjects.Classify(row.Info, row.Subject)
	var memeText string
	if kind == subjects.KindMoved {
		memeText = fmt.Sprintf("Am %s %s verschoben", row.Weekday, subject)
	} else {
		memeText = fmt.Sprintf("am %s kein %s", row.Weekday, subject)
	}

	path, err := d.renderer.Render(ctx, memeText)
	if err != nil {
		d.logger.Warn("Render failed, falling back to text",
			"recipient", recipientID, "subject", subject, "error", err)
		return d.sendText(recipientID, caption)
	}
	defer func() {
		if removeErr := os.Remove(path); removeErr != nil {
			d.logger.Warn("Failed to remove rendered clip", "path", path, "error", removeErr)
		}
	}()

	if err := d.transport.SendVideo(recipientID, path, caption); err != nil {
		d.logger.Warn("Video send failed, falling back to text",
			"recipient", recipientID, "subject", subject, "error", err)
		return d.sendText(recipientID, caption)
	}

	d.logger.Info("Video notification sent", "recipient", recipientID, "subject", subject)
	return nil
}

func (d *Dispatcher) sendText(recipientID, text string) error {
	if err := d.transport.SendText(recipientID, text); err != nil {
		return &DeliveryError{Recipient: recipientID, Err: err}
	}
	d.logger.Info("Text notification sent", "recipient", recipientID)
	return nil
}
