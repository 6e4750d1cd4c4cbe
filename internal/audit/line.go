// Package audit renders committed audit entries and mirrors them to the
// human-readable activity log and to a Redis stream.
package audit

import (
	"fmt"
	"strings"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// TimeLayout is the timestamp format of activity log lines. Lines are
// stamped in UTC whatever the host time zone.
const TimeLayout = "2006-01-02 15:04:05"

// Line renders e as one activity log line:
//
//	2024-03-01 08:00:00 | Иван Петров | inside -> work | GPS: 55.751244, 37.618423
//	2024-03-01 09:00:00 | ADMIN | Сброс всех статусов на 'inside' (12)
func Line(e schema.AuditEntry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.UTC().Format(TimeLayout))
	b.WriteString(" | ")
	b.WriteString(e.Actor)
	b.WriteString(" | ")
	if e.Summary() {
		b.WriteString(e.Detail)
		return b.String()
	}
	fmt.Fprintf(&b, "%s -> %s", e.OldStatus, e.NewStatus)
	if e.Location != nil {
		fmt.Fprintf(&b, " | GPS: %.6f, %.6f", e.Location.Latitude, e.Location.Longitude)
	}
	return b.String()
}
