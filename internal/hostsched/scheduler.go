package hostsched

import (
	"container/heap"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/hashicorp/go-hclog"
)

const maxSleepCap = 60 * time.Second

// Alarm describes a registered alarm.
type Alarm struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
	Cron string    `json:"cron,omitempty"`
}

// Scheduler fires named alarms. Registering a name that already exists
// replaces the previous alarm. Registration and cancellation are handed to
// the scheduler goroutine synchronously, so calls from one goroutine apply
// in order.
type Scheduler struct {
	ctx      context.Context
	addCh    chan alarm
	removeCh chan string
	listCh   chan chan []Alarm
	log      hclog.Logger

	running sync.WaitGroup
	stopped chan struct{}
}

// New creates and starts a scheduler. It stops when ctx is cancelled.
func New(ctx context.Context, log hclog.Logger) *Scheduler {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	s := &Scheduler{
		ctx:      ctx,
		addCh:    make(chan alarm),
		removeCh: make(chan string),
		listCh:   make(chan chan []Alarm),
		log:      log.Named("hostsched"),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule registers a one-shot alarm firing fn at the given time. Times in
// the past fire immediately.
func (s *Scheduler) Schedule(name string, at time.Time, fn func(time.Time)) {
	s.add(alarm{name: name, at: at, fn: fn})
}

// SchedulePeriodic registers fn to fire at every tick of a 5-field cron
// expression, starting with the first tick after now.
func (s *Scheduler) SchedulePeriodic(name, cronExpr string, fn func(time.Time)) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid cron expression %q", cronExpr)
	}
	next, err := gronx.NextTickAfter(cronExpr, time.Now(), false)
	if err != nil {
		return fmt.Errorf("next tick of %q: %w", cronExpr, err)
	}
	s.add(alarm{name: name, at: next, cron: cronExpr, fn: fn})
	return nil
}

// Cancel removes the alarm registered under name.
func (s *Scheduler) Cancel(name string) {
	select {
	case s.removeCh <- name:
	case <-s.ctx.Done():
	}
}

// Alarms returns the registered alarms, earliest first.
func (s *Scheduler) Alarms() []Alarm {
	reply := make(chan []Alarm, 1)
	select {
	case s.listCh <- reply:
	case <-s.ctx.Done():
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-s.ctx.Done():
		return nil
	}
}

// Wait blocks until the scheduler has stopped and every callback it started
// has returned.
func (s *Scheduler) Wait() {
	<-s.stopped
	s.running.Wait()
}

func (s *Scheduler) add(a alarm) {
	select {
	case s.addCh <- a:
	case <-s.ctx.Done():
	}
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	h := &alarmHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := time.Until((*h)[0].at)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case a := <-s.addCh:
			h.removeByName(a.name)
			heap.Push(h, a)
			s.log.Debug("alarm registered", "name", a.name, "at", a.at, "cron", a.cron)
			timerCh = resetTimer()

		case name := <-s.removeCh:
			if h.removeByName(name) {
				s.log.Debug("alarm cancelled", "name", name)
			}
			timerCh = resetTimer()

		case reply := <-s.listCh:
			out := make([]Alarm, 0, h.Len())
			for _, a := range *h {
				out = append(out, Alarm{Name: a.name, At: a.at, Cron: a.cron})
			}
			slices.SortFunc(out, func(a, b Alarm) int { return a.At.Compare(b.At) })
			reply <- out

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].at.After(now) {
				a := heap.Pop(h).(alarm)
				s.fire(a, now)
				if a.cron == "" {
					continue
				}
				next, err := gronx.NextTickAfter(a.cron, now, false)
				if err != nil {
					s.log.Error("cannot re-arm periodic alarm", "name", a.name, "cron", a.cron, "error", err)
					continue
				}
				a.at = next
				heap.Push(h, a)
			}
			timerCh = resetTimer()
		}
	}
}

func (s *Scheduler) fire(a alarm, now time.Time) {
	s.log.Debug("alarm fired", "name", a.name)
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		a.fn(now)
	}()
}
