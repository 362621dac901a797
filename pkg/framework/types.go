package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background tasks.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Message is a command posted to the loop and handed to controllers at
// the start of the next cycle.
type Message interface{}

// Controller is invoked once per cycle.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc defines the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(cc ControlContext) error {
	return f(cc)
}

// ControlContext provides the context of the current cycle.
type ControlContext interface {
	// Context retrieves context.Context.
	Context() context.Context
	// Time is when the cycle started.
	Time() time.Time
	// Cycle is the sequence number of the cycle.
	Cycle() uint64
	// PriorityLevel gets the current priority level.
	PriorityLevel() int
	// Messages retrieves the messages collected when the cycle started.
	Messages() MessageStore

	LoopControl
}

// PriorityLevels is the total levels of priorities.
const PriorityLevels int = 16

// Predefined priority levels.
const (
	PrLvTop    int = 0
	PrLvHigh   int = 4
	PrLvNormal int = 8
	PrLvLow    int = 12
	PrLvIdle   int = PriorityLevels - 1

	// PrLvCapture runs sources feeding the transmit path.
	PrLvCapture = PrLvHigh
	// PrLvControl applies control messages.
	PrLvControl = PrLvNormal
	// PrLvPlayback runs sinks draining the receive path.
	PrLvPlayback = PrLvLow
)

// LoopControl exposes access to the loop.
type LoopControl interface {
	// PostMessage enqueues the message for the next cycle.
	PostMessage(Message)
	// TriggerNext runs the next cycle immediately.
	TriggerNext()
}

// MessageStore provides access to the messages of a cycle.
type MessageStore interface {
	// ProcessMessages hands every pending message to proc. Messages proc
	// takes are removed, the others are left to later controllers.
	ProcessMessages(proc func(Message) (taken bool))
	// Len returns the number of pending messages.
	Len() int
}
