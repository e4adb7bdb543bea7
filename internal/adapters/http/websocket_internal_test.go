package http

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samirrijal/cropcover/internal/core/domain"
)

var errPingFailed = errors.New("ping failed")

type sentLog struct {
	mu     sync.Mutex
	events []string
}

func (l *sentLog) send(ev string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *sentLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestPump_ForwardsEventsAndResync(t *testing.T) {
	updates := make(chan domain.EventType, 4)
	done := make(chan struct{})
	exited := make(chan struct{})
	var dropped atomic.Bool
	var sent sentLog

	dropped.Store(true)
	updates <- domain.EventStateChanged

	go func() {
		defer close(exited)
		pump(done, updates, &dropped, nil, sent.send, func() error { return nil })
	}()

	deadline := time.After(time.Second)
	for len(sent.snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("sent = %v", sent.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(done)
	<-exited

	got := sent.snapshot()
	if got[0] != string(domain.EventStateChanged) || got[1] != wsEventResync {
		t.Errorf("sent = %v", got)
	}
}

func TestPump_NoSendAfterDone(t *testing.T) {
	updates := make(chan domain.EventType, 4)
	done := make(chan struct{})
	exited := make(chan struct{})
	var dropped atomic.Bool
	var sent sentLog

	go func() {
		defer close(exited)
		pump(done, updates, &dropped, nil, sent.send, func() error { return nil })
	}()

	close(done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop after done")
	}

	updates <- domain.EventPointChanged
	time.Sleep(20 * time.Millisecond)
	if got := sent.snapshot(); len(got) != 0 {
		t.Errorf("sent after stop: %v", got)
	}
}

func TestPump_StopsOnPingFailure(t *testing.T) {
	ping := make(chan time.Time, 1)
	exited := make(chan struct{})
	var dropped atomic.Bool
	var sent sentLog

	ping <- time.Now()
	go func() {
		defer close(exited)
		pump(make(chan struct{}), make(chan domain.EventType), &dropped, ping, sent.send, func() error {
			return errPingFailed
		})
	}()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("pump kept running after a failed ping")
	}
}
