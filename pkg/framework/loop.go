package framework

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the cycle period of a Loop without one.
const DefaultInterval = 10 * time.Millisecond

// Loop runs controllers at a fixed cadence, ordered by priority level.
// Messages posted between two cycles are visible to all controllers of
// the next cycle.
type Loop struct {
	Interval time.Duration

	controllers [PriorityLevels][]Controller
	runners     []Runnable

	messages messageList
	lock     sync.Mutex

	wakeUpCh chan struct{}
	cycles   uint64
	overruns uint64
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type loopCycle struct {
	*Loop
	ctx           context.Context
	time          time.Time
	seq           uint64
	priorityLevel int
	messages      messageList
}

type messageList struct {
	head *messageItem
	tail *messageItem
	size int
}

type messageItem struct {
	msg  Message
	next *messageItem
}

func (l *messageList) append(item *messageItem) {
	if l.head == nil {
		l.head = item
	} else {
		l.tail.next = item
	}
	l.tail = item
	l.size++
}

func (l *messageList) splice(src *messageList) {
	*l, *src = *src, messageList{}
}

// NewLoop creates a Loop cycling every interval.
func NewLoop(interval time.Duration) *Loop {
	return &Loop{Interval: interval, wakeUpCh: make(chan struct{}, 1)}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController registers controllers at priorityLevel. Controllers which
// are also Runnable are started with the loop.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	l.controllers[priorityLevel] = append(l.controllers[priorityLevel], ctls...)
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds tasks running alongside the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint64 {
	return atomic.LoadUint64(&l.cycles)
}

// Overruns returns the number of cycles which took longer than Interval.
func (l *Loop) Overruns() uint64 {
	return atomic.LoadUint64(&l.overruns)
}

// Run implements Runnable. It returns when ctx is done or when one of
// the added tasks fails.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	runner := NewRunnerWith(ctx)
	runner.Go(l.runners...)
	waitCh := make(chan error, 1)
	go func() { waitCh <- runner.Wait() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			runner.Stop()
			if waitCh != nil {
				<-waitCh
			}
			return ctx.Err()
		case err := <-waitCh:
			waitCh = nil
			if err != nil {
				return err
			}
		case <-ticker.C:
			l.runCycle(ctx, interval)
		case <-l.wakeUpCh:
			l.runCycle(ctx, interval)
		}
	}
}

// RunOrFail is intended to be used in main to run the loop until
// interrupted.
func (l *Loop) RunOrFail() {
	r := NewRunner().HandleSignals().Go(NamedRun("loop", l))
	if err := r.Wait(); err != nil {
		log.Fatalln(err)
	}
}

// PostMessage implements LoopControl.
func (l *Loop) PostMessage(msg Message) {
	l.lock.Lock()
	l.messages.append(&messageItem{msg: msg})
	l.lock.Unlock()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

func (l *Loop) runCycle(ctx context.Context, interval time.Duration) {
	c := &loopCycle{Loop: l, ctx: ctx, time: time.Now(), seq: atomic.LoadUint64(&l.cycles)}
	l.lock.Lock()
	c.messages.splice(&l.messages)
	l.lock.Unlock()
	for i, ctls := range l.controllers {
		c.priorityLevel = i
		for _, ctl := range ctls {
			if err := ctl.Control(c); err != nil {
				glog.Errorf("controller error: %v", err)
			}
		}
	}
	if c.messages.size > 0 {
		glog.V(2).Infof("loop: %d messages not taken", c.messages.size)
	}
	atomic.AddUint64(&l.cycles, 1)
	if elapsed := time.Since(c.time); elapsed > interval {
		atomic.AddUint64(&l.overruns, 1)
		glog.V(2).Infof("loop: cycle %d overrun %v", c.seq, elapsed)
	}
}

func (c *loopCycle) Context() context.Context {
	return c.ctx
}

func (c *loopCycle) Time() time.Time {
	return c.time
}

func (c *loopCycle) Cycle() uint64 {
	return c.seq
}

func (c *loopCycle) PriorityLevel() int {
	return c.priorityLevel
}

func (c *loopCycle) Messages() MessageStore {
	return c
}

func (c *loopCycle) Len() int {
	return c.messages.size
}

func (c *loopCycle) ProcessMessages(proc func(Message) bool) {
	var msgs, remains messageList
	msgs.splice(&c.messages)
	for item := msgs.head; item != nil; {
		next := item.next
		item.next = nil
		if !proc(item.msg) {
			remains.append(item)
		}
		item = next
	}
	c.messages = remains
}
