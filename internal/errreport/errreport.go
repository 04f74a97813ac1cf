// Package errreport turns failed network actions into a short message for
// the user. Backends answer errors in several envelope shapes; Message
// finds the human-readable part of whichever one it gets.
package errreport

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Notifier displays a transient error notification.
type Notifier interface {
	Error(format string, a ...any)
}

// BodyError is implemented by errors that carry a raw response body.
type BodyError interface {
	error
	Body() []byte
}

// envelopePaths are tried in order against a JSON error body.
var envelopePaths = []string{
	"message",
	"error.message",
	"error",
	"errors.0.message",
	"errors.0.detail",
	"errors.0",
	"result.content.message",
	"result.content",
	"detail",
}

// Reporter is the shared error-reporting collaborator.
type Reporter struct {
	ui  Notifier
	log *zap.Logger
}

// New returns a Reporter that notifies through ui. A nil logger uses the
// global zap logger.
func New(ui Notifier, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.L()
	}
	return &Reporter{ui: ui, log: log}
}

// HandleError logs err and shows its message.
func (r *Reporter) HandleError(err error) {
	if err == nil {
		return
	}
	msg := Message(err)
	r.log.Warn("action failed", zap.String("message", msg), zap.Error(err))
	if r.ui != nil {
		r.ui.Error("%s", msg)
	}
}

// Message extracts a human-readable message from err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be BodyError
	if errors.As(err, &be) {
		if msg, ok := FromJSON(be.Body()); ok {
			return msg
		}
	}
	if msg, ok := FromJSON([]byte(err.Error())); ok {
		return msg
	}
	return err.Error()
}

// FromJSON looks for a message in a JSON error envelope.
func FromJSON(body []byte) (string, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return "", false
	}
	for _, p := range envelopePaths {
		res := gjson.GetBytes(body, p)
		if res.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(res.String()); s != "" {
			return s, true
		}
	}
	return "", false
}
