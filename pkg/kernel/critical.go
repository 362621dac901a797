package kernel

import "sync"

// Critical is a short mutually exclusive section shared by interrupt
// callbacks and tasks. Sections must be O(1) and must not block.
type Critical struct {
	mu sync.Mutex
}

// Guard is the token of an entered Critical section. It is released by
// Exit and must not outlive the function that entered the section.
type Guard struct {
	c *Critical
}

// Enter enters the section, the common form is
//
//	defer cs.Enter().Exit()
func (c *Critical) Enter() Guard {
	c.mu.Lock()
	return Guard{c: c}
}

// Exit leaves the section.
func (g Guard) Exit() {
	g.c.mu.Unlock()
}

// Do runs fn inside the section.
func (c *Critical) Do(fn func()) {
	defer c.Enter().Exit()
	fn()
}
