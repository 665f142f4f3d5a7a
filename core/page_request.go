package core

// page_request.go - the caller-facing handle for one page fetch and its
// internal counterpart owned by the fetch task. The task writes status and
// the one-shot result; the caller reads both and may cancel at any time.

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PageStage enumerates the stages a fetch moves through.
type PageStage int

const (
	StageRequestingPath PageStage = iota
	StageWaitingForAnnounce
	StagePathFound
	StageConnecting
	StageLinkEstablished
	StageSendingRequest
	StageAwaitingResponse
	StageRetrieving
	StageComplete
	StageCancelled
	StageFailed
)

// PageStatus reports fetch progress. Equality is structural; only the
// fields relevant to the stage are set.
type PageStatus struct {
	Stage         PageStage
	Hops          uint8
	PartsReceived uint32
	TotalParts    uint32
	Message       string
}

// StatusRequestingPath and friends build the per-stage status values.
func StatusRequestingPath() PageStatus     { return PageStatus{Stage: StageRequestingPath} }
func StatusWaitingForAnnounce() PageStatus { return PageStatus{Stage: StageWaitingForAnnounce} }
func StatusPathFound(hops uint8) PageStatus {
	return PageStatus{Stage: StagePathFound, Hops: hops}
}
func StatusConnecting() PageStatus       { return PageStatus{Stage: StageConnecting} }
func StatusLinkEstablished() PageStatus  { return PageStatus{Stage: StageLinkEstablished} }
func StatusSendingRequest() PageStatus   { return PageStatus{Stage: StageSendingRequest} }
func StatusAwaitingResponse() PageStatus { return PageStatus{Stage: StageAwaitingResponse} }
func StatusRetrieving(received, total uint32) PageStatus {
	return PageStatus{Stage: StageRetrieving, PartsReceived: received, TotalParts: total}
}
func StatusComplete() PageStatus  { return PageStatus{Stage: StageComplete} }
func StatusCancelled() PageStatus { return PageStatus{Stage: StageCancelled} }
func StatusFailed(message string) PageStatus {
	return PageStatus{Stage: StageFailed, Message: message}
}

// Terminal reports whether the status ends a fetch.
func (s PageStatus) Terminal() bool {
	return s.Stage == StageComplete || s.Stage == StageCancelled || s.Stage == StageFailed
}

func (s PageStatus) String() string {
	switch s.Stage {
	case StageRequestingPath:
		return "requesting path"
	case StageWaitingForAnnounce:
		return "waiting for announce"
	case StagePathFound:
		return fmt.Sprintf("path found (%d hops)", s.Hops)
	case StageConnecting:
		return "connecting"
	case StageLinkEstablished:
		return "link established"
	case StageSendingRequest:
		return "sending request"
	case StageAwaitingResponse:
		return "awaiting response"
	case StageRetrieving:
		return fmt.Sprintf("retrieving %d/%d", s.PartsReceived, s.TotalParts)
	case StageComplete:
		return "complete"
	case StageCancelled:
		return "cancelled"
	case StageFailed:
		return "failed: " + s.Message
	default:
		return "unknown"
	}
}

// FetchResult is the single outcome of a fetch. Err carries the
// caller-facing failure message when the fetch did not complete.
type FetchResult struct {
	Data []byte
	Err  error
}

// FetchRequest is the caller's half of one page fetch. Close (or Cancel)
// must be called when the caller lets go of the handle; both set the
// cancellation signal seen by the fetch task.
type FetchRequest struct {
	status *Watch[PageStatus]
	result chan FetchResult
	cancel context.CancelFunc
}

// Status returns the latest progress value.
func (r *FetchRequest) Status() PageStatus {
	return r.status.Get()
}

// StatusUpdates subscribes to progress changes, starting with the current
// value. Slow readers miss intermediate values, never the latest.
func (r *FetchRequest) StatusUpdates() *Subscription[PageStatus] {
	return r.status.Subscribe()
}

// Result returns the channel the single fetch outcome arrives on.
func (r *FetchRequest) Result() <-chan FetchResult {
	return r.result
}

// Cancel requests cooperative cancellation of the fetch task.
func (r *FetchRequest) Cancel() {
	r.cancel()
}

// Close releases the handle. The fetch task observes the cancellation and
// winds down; the transport reclaims any idle link.
func (r *FetchRequest) Close() {
	r.cancel()
}

// fetchHandle is the task-owned half: status writer, result sender and the
// cancellation context. Terminal transitions are guarded so the result
// fires exactly once and a terminal status is never overwritten.
type fetchHandle struct {
	status *Watch[PageStatus]
	result chan FetchResult
	ctx    context.Context

	once sync.Once
}

// newFetchRequest builds the linked pair of handle halves.
func newFetchRequest() (*fetchHandle, *FetchRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	status := NewWatch(StatusRequestingPath())
	result := make(chan FetchResult, 1)

	handle := &fetchHandle{
		status: status,
		result: result,
		ctx:    ctx,
	}
	request := &FetchRequest{
		status: status,
		result: result,
		cancel: cancel,
	}
	return handle, request
}

func (h *fetchHandle) isCancelled() bool {
	return h.ctx.Err() != nil
}

// setStatus publishes a progress value unless the fetch already ended.
func (h *fetchHandle) setStatus(s PageStatus) {
	if h.status.Get().Terminal() {
		return
	}
	h.status.Set(s)
}

func (h *fetchHandle) complete(data []byte) {
	h.once.Do(func() {
		h.setStatus(StatusComplete())
		h.result <- FetchResult{Data: data}
	})
}

func (h *fetchHandle) fail(message string) {
	h.once.Do(func() {
		h.setStatus(StatusFailed(message))
		h.result <- FetchResult{Err: errors.New(message)}
	})
}

func (h *fetchHandle) cancelled() {
	h.once.Do(func() {
		h.setStatus(StatusCancelled())
		h.result <- FetchResult{Err: errors.New("Cancelled")}
	})
}
