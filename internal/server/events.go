package server

import (
	"context"
	"sync"
	"time"
)

const (
	submissionEventName = "submission"
	heartbeatEventName  = "heartbeat"
)

// SubmissionEvent notifies a form owner that a new submission was stored.
type SubmissionEvent struct {
	FormID       string
	SubmissionID string
	SubmittedAt  time.Time
}

// SubmissionDispatcher fans submission events out to the owners streaming a
// form's event feed. Slow consumers drop events rather than block the
// submit path.
type SubmissionDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*submissionSubscriber
	nextID      int64
	bufferSize  int
}

type submissionSubscriber struct {
	id     int64
	stream chan SubmissionEvent
}

// NewSubmissionDispatcher constructs an empty dispatcher.
func NewSubmissionDispatcher() *SubmissionDispatcher {
	return &SubmissionDispatcher{
		subscribers: make(map[string]map[int64]*submissionSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for one form's events. The returned cancel
// function is idempotent; the subscription also ends when the context does.
func (d *SubmissionDispatcher) Subscribe(ctx context.Context, formID string) (<-chan SubmissionEvent, func()) {
	if formID == "" {
		ch := make(chan SubmissionEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &submissionSubscriber{
		id:     d.nextSequence(),
		stream: make(chan SubmissionEvent, d.bufferSize),
	}
	d.registerSubscriber(formID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(formID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every current subscriber of its form.
func (d *SubmissionDispatcher) Publish(event SubmissionEvent) {
	if event.FormID == "" || event.SubmissionID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.FormID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*submissionSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *SubmissionDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *SubmissionDispatcher) registerSubscriber(formID string, subscriber *submissionSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[formID]; !ok {
		d.subscribers[formID] = make(map[int64]*submissionSubscriber)
	}
	d.subscribers[formID][subscriber.id] = subscriber
}

func (d *SubmissionDispatcher) unregisterSubscriber(formID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[formID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, formID)
		}
	}
	d.mu.Unlock()
}
