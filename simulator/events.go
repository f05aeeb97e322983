package simulator

import (
	"encoding/json"
	"fmt"
)

// EventType represents the type of simulation event
type EventType int

const (
	EventTypeAccess EventType = iota
	EventTypeAdmission
	EventTypeCompletion
)

func (et EventType) String() string {
	switch et {
	case EventTypeAccess:
		return "access"
	case EventTypeAdmission:
		return "admission"
	case EventTypeCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for EventType
func (et EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(et.String())
}

// Event is the base interface for all simulation events
type Event interface {
	Timestamp() float64 // Virtual time in milliseconds
	Type() EventType
	String() string
}

// AccessEvent is one memory access. It is queued by think-time completion and
// filled in once the access has been performed.
type AccessEvent struct {
	timestamp float64
	pid       ProcessID
	result    AccessResult
}

func NewAccessEvent(timestamp float64, pid ProcessID) *AccessEvent {
	return &AccessEvent{timestamp: timestamp, pid: pid}
}

// NewCompletedAccessEvent creates an access event that already carries its result
func NewCompletedAccessEvent(timestamp float64, pid ProcessID, result AccessResult) *AccessEvent {
	return &AccessEvent{timestamp: timestamp, pid: pid, result: result}
}

func (e *AccessEvent) Timestamp() float64      { return e.timestamp }
func (e *AccessEvent) Type() EventType         { return EventTypeAccess }
func (e *AccessEvent) ProcessID() ProcessID    { return e.pid }
func (e *AccessEvent) Result() AccessResult    { return e.result }
func (e *AccessEvent) Hit() bool               { return e.result.Hit }
func (e *AccessEvent) complete(r AccessResult) { e.result = r }
func (e *AccessEvent) String() string {
	kind := "hit"
	if !e.result.Hit {
		kind = "fault"
	}
	if e.result.EvictedPage >= 0 {
		return fmt.Sprintf("Access(t=%.1fms, pid=%d, %s, vpage=%d -> frame=%d, evicted=%d)",
			e.timestamp, e.pid, kind, e.result.VirtualPage, e.result.Frame, e.result.EvictedPage)
	}
	return fmt.Sprintf("Access(t=%.1fms, pid=%d, %s, vpage=%d -> frame=%d)",
		e.timestamp, e.pid, kind, e.result.VirtualPage, e.result.Frame)
}

func (e *AccessEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType    `json:"type"`
		Timestamp float64      `json:"timestamp"`
		ProcessID ProcessID    `json:"processId"`
		Result    AccessResult `json:"result"`
	}{EventTypeAccess, e.timestamp, e.pid, e.result})
}

// AdmissionEvent records a process receiving its frames
type AdmissionEvent struct {
	timestamp float64
	pid       ProcessID
	frames    []int
}

func NewAdmissionEvent(timestamp float64, pid ProcessID, frames []int) *AdmissionEvent {
	return &AdmissionEvent{
		timestamp: timestamp,
		pid:       pid,
		frames:    append([]int(nil), frames...),
	}
}

func (e *AdmissionEvent) Timestamp() float64   { return e.timestamp }
func (e *AdmissionEvent) Type() EventType      { return EventTypeAdmission }
func (e *AdmissionEvent) ProcessID() ProcessID { return e.pid }
func (e *AdmissionEvent) Frames() []int        { return append([]int(nil), e.frames...) }
func (e *AdmissionEvent) String() string {
	if len(e.frames) == 0 {
		return fmt.Sprintf("Admission(t=%.1fms, pid=%d)", e.timestamp, e.pid)
	}
	return fmt.Sprintf("Admission(t=%.1fms, pid=%d, frames=%d-%d)",
		e.timestamp, e.pid, e.frames[0], e.frames[len(e.frames)-1])
}

func (e *AdmissionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Timestamp float64   `json:"timestamp"`
		ProcessID ProcessID `json:"processId"`
		Frames    []int     `json:"frames"`
	}{EventTypeAdmission, e.timestamp, e.pid, e.frames})
}

// CompletionEvent summarizes a process that finished and released its frames
type CompletionEvent struct {
	timestamp float64
	pid       ProcessID
	accesses  int
	faults    int
}

func NewCompletionEvent(timestamp float64, pid ProcessID, accesses, faults int) *CompletionEvent {
	return &CompletionEvent{
		timestamp: timestamp,
		pid:       pid,
		accesses:  accesses,
		faults:    faults,
	}
}

func (e *CompletionEvent) Timestamp() float64   { return e.timestamp }
func (e *CompletionEvent) Type() EventType      { return EventTypeCompletion }
func (e *CompletionEvent) ProcessID() ProcessID { return e.pid }
func (e *CompletionEvent) Accesses() int        { return e.accesses }
func (e *CompletionEvent) Faults() int          { return e.faults }
func (e *CompletionEvent) FaultRate() float64   { return ratio(e.faults, e.accesses) }
func (e *CompletionEvent) String() string {
	return fmt.Sprintf("Completion(t=%.1fms, pid=%d, accesses=%d, faults=%d, fault_rate=%.2f%%)",
		e.timestamp, e.pid, e.accesses, e.faults, e.FaultRate()*100)
}

func (e *CompletionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Timestamp float64   `json:"timestamp"`
		ProcessID ProcessID `json:"processId"`
		Accesses  int       `json:"accesses"`
		Faults    int       `json:"faults"`
		FaultRate float64   `json:"faultRate"`
	}{EventTypeCompletion, e.timestamp, e.pid, e.accesses, e.faults, e.FaultRate()})
}
