package domain

import "time"

// Event is a decoded ledger log entry.
type Event struct {
	Name   string         `json:"name"`
	Values map[string]any `json:"values,omitempty"`
}

// Receipt is the confirmation of a ledger mutation.
type Receipt struct {
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	Contract    string    `json:"contract"`
	Address     string    `json:"address"`
	Method      string    `json:"method"`
	Events      []Event   `json:"events"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// Event returns the first event with the given name.
func (r Receipt) Event(name string) (Event, bool) {
	for _, ev := range r.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

// EventNames lists the names of all events in the receipt, in order.
func (r Receipt) EventNames() []string {
	names := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		names = append(names, ev.Name)
	}
	return names
}
