package orderstatus

import (
	"encoding/json"
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s.Name == Statuses.Completed.Name || s.Name == Statuses.Cancelled.Name
}

// Next returns the following status in the preparation flow, or the
// status itself when there is no next step.
func (s Status) Next() Status {
	switch s.Name {
	case Statuses.Pending.Name:
		return Statuses.Preparing
	case Statuses.Preparing.Name:
		return Statuses.Ready
	case Statuses.Ready.Name:
		return Statuses.Completed
	default:
		return s
	}
}

// CanTransition reports whether the target status is reachable from s.
// Cancelled is reachable from any non-terminal state; otherwise only the
// immediate next step in the flow is allowed.
func (s Status) CanTransition(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	if to.Name == Statuses.Cancelled.Name {
		return true
	}
	return s.Next().Name == to.Name && s.Name != to.Name
}

type Enum struct {
	Pending   Status
	Preparing Status
	Ready     Status
	Completed Status
	Cancelled Status
}

var Statuses = Enum{
	Pending:   Status{Name: "pending"},
	Preparing: Status{Name: "preparing"},
	Ready:     Status{Name: "ready"},
	Completed: Status{Name: "completed"},
	Cancelled: Status{Name: "cancelled"},
}

var All = []Status{
	Statuses.Pending,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Completed,
	Statuses.Cancelled,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// Parse maps a raw upstream status string to its canonical status. The
// match is case-insensitive and ignores surrounding whitespace. The second
// return value is false when the input is not a recognized status, in which
// case Pending is returned as the documented fallback. Callers that care
// about data quality should log when ok is false.
func Parse(raw string) (Status, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if s := ByName(name); s != nil {
		return *s, true
	}
	return Statuses.Pending, false
}

// Normalize is the total version of Parse: every input maps to one of the
// five canonical statuses, unrecognized values fall back to Pending.
func Normalize(raw string) Status {
	s, _ := Parse(raw)
	return s
}

// MarshalJSON encodes the status as its canonical name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Name)
}

// UnmarshalJSON decodes any upstream status string, normalizing
// unrecognized values to Pending. Decoding never fails on content.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Normalize(raw)
	return nil
}
