package eventcache

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"
)

// CSVHeader is the first line of every CSV export.
const CSVHeader = "Timestamp,Username,Phone Number,Outcome,Response Code,IP Address,Duration (ms),Error"

// EscapeCSV quotes s when it contains a comma, a double quote or a newline,
// doubling any embedded quotes. Other values are returned unchanged.
func EscapeCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// EventsCSV renders events as CSV text, header included.
func EventsCSV(events []Event) string {
	var b strings.Builder
	b.Grow(len(CSVHeader) + 1 + len(events)*96)
	b.WriteString(CSVHeader)
	b.WriteByte('\n')
	for i := range events {
		writeCSVRow(&b, &events[i])
	}
	return b.String()
}

// WriteEventsCSV writes the CSV rendering of events to w.
func WriteEventsCSV(w io.Writer, events []Event) error {
	_, err := io.WriteString(w, EventsCSV(events))
	return err
}

func writeCSVRow(b *strings.Builder, e *Event) {
	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteByte(',')
	b.WriteString(EscapeCSV(e.Username))
	b.WriteByte(',')
	b.WriteString(EscapeCSV(e.PhoneNumber))
	b.WriteByte(',')
	b.WriteString(EscapeCSV(string(e.Outcome)))
	b.WriteByte(',')
	b.WriteString(EscapeCSV(e.ResponseCode))
	b.WriteByte(',')
	b.WriteString(EscapeCSV(e.IPAddress))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(e.DurationMs, 10))
	b.WriteByte(',')
	b.WriteString(EscapeCSV(e.ErrorMessage))
	b.WriteByte('\n')
}

// WriteEventsJSON writes events as a JSON array. A nil slice renders as [].
func WriteEventsJSON(w io.Writer, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	return json.NewEncoder(w).Encode(events)
}
