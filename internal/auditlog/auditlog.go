// Package auditlog adapts the engine's AuditLogger capability onto a
// structured logging sink. The ipsec package treats audit events as an
// externally supplied capability and performs no I/O of its own; this
// package is the one place in the tree that turns an ipsec.AuditEvent
// into an actual log line.
package auditlog

import (
	"github.com/charmbracelet/log"

	ipsec "github.com/tinytux/embeddedipsec/src"
)

// Logger adapts a *log.Logger to ipsec.AuditLogger. Every audit event is
// logged at a level derived from its AuditCode: APPLY/BYPASS are routine
// traffic and log at Info, everything else is a drop or a mismatch and
// logs at Warn.
type Logger struct {
	log *log.Logger
}

// New wraps l. Passing nil uses log.Default().
func New(l *log.Logger) *Logger {
	if l == nil {
		l = log.Default()
	}
	return &Logger{log: l}
}

// Audit implements ipsec.AuditLogger.
func (a *Logger) Audit(ev ipsec.AuditEvent) {
	fields := []interface{}{"source", ev.Source, "code", ev.Code.String()}
	switch ev.Code {
	case ipsec.AuditApply, ipsec.AuditBypass:
		a.log.Info(ev.Message, fields...)
	case ipsec.AuditDiscard:
		a.log.Warn(ev.Message, fields...)
	default:
		a.log.Warn(ev.Message, fields...)
	}
}

var _ ipsec.AuditLogger = (*Logger)(nil)
