package flight

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
)

// Ticket selects one report table and an inclusive day range. Empty dates
// leave that side of the range open.
type Ticket struct {
	Table string `json:"table"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Range parses the ticket's dates.
func (t Ticket) Range() (start, end time.Time, err error) {
	if start, err = parseDay(t.Start); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	if end, err = parseDay(t.End); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s", t.Start, t.End)
	}
	return start, end, nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// encodeTicket serializes a Ticket into a flight.Ticket.
func encodeTicket(t Ticket) (*flight.Ticket, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &flight.Ticket{Ticket: data}, nil
}

func decodeTicket(data []byte) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, err
	}
	if t.Table == "" {
		return Ticket{}, fmt.Errorf("missing table")
	}
	return t, nil
}
