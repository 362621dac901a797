// Package kernel provides the small set of scheduling primitives the
// transport core consumes: short critical sections shared between
// interrupt callbacks and tasks, interrupt flags tasks can block on,
// and cancellable sleeps.
//
// Interrupt callbacks must never block. They may enter a Critical
// section and Signal a Flag; everything else belongs to tasks.
package kernel
