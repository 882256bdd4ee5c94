// Package events defines the typed event stream emitted by the download
// engines (C5/C6) and consumed by the progress driver (C8).
package events

import "github.com/tachyon-dl/tachyon-core/internal/rangeset"

// Kind tags the variant carried by an Event.
type Kind int

const (
	Pulling Kind = iota
	PullProgress
	PullError
	PullTimeout
	PushProgress
	PushError
	FlushError
	Finished
	RangeDropped
)

func (k Kind) String() string {
	switch k {
	case Pulling:
		return "pulling"
	case PullProgress:
		return "pull_progress"
	case PullError:
		return "pull_error"
	case PullTimeout:
		return "pull_timeout"
	case PushProgress:
		return "push_progress"
	case PushError:
		return "push_error"
	case FlushError:
		return "flush_error"
	case Finished:
		return "finished"
	case RangeDropped:
		return "range_dropped"
	default:
		return "unknown"
	}
}

// Event is one item on an engine's event stream. WorkerID is -1 for
// worker-less events (e.g. FlushError). Range is the zero value unless
// Kind is one that carries a byte range.
type Event struct {
	Kind     Kind
	WorkerID int
	Range    rangeset.Range
	Err      error
}

func Pull(workerID int) Event {
	return Event{Kind: Pulling, WorkerID: workerID}
}

func PullProg(workerID int, r rangeset.Range) Event {
	return Event{Kind: PullProgress, WorkerID: workerID, Range: r}
}

func PullErr(workerID int, err error) Event {
	return Event{Kind: PullError, WorkerID: workerID, Err: err}
}

func PullTO(workerID int) Event {
	return Event{Kind: PullTimeout, WorkerID: workerID}
}

func PushProg(workerID int, r rangeset.Range) Event {
	return Event{Kind: PushProgress, WorkerID: workerID, Range: r}
}

func PushErr(workerID int, err error) Event {
	return Event{Kind: PushError, WorkerID: workerID, Err: err}
}

func FlushErr(err error) Event {
	return Event{Kind: FlushError, WorkerID: -1, Err: err}
}

func Done(workerID int) Event {
	return Event{Kind: Finished, WorkerID: workerID}
}

func Dropped(workerID int) Event {
	return Event{Kind: RangeDropped, WorkerID: workerID}
}

// End is the terminal signal for a full task run (C11), distinct from the
// per-engine Event stream above.
type End struct {
	Cancelled bool
	Err       error
}
