package gateway

import "sync"

// conversationLocks serializes pipeline work per conversation. Two
// webhook deliveries for the same conversation must not race through
// the append/schedule section, or both could arm auto-reply timers;
// deliveries for different conversations proceed in parallel.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for a conversation and returns its unlock
// function. Entries live for the process lifetime; the map is bounded
// by the number of active conversations.
func (c *conversationLocks) acquire(conversationID string) func() {
	c.mu.Lock()
	l, ok := c.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[conversationID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
