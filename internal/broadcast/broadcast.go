package broadcast

import "sync"

// MessageBroadcaster はイベントを外部（WebSocket等）に配信する。
type MessageBroadcaster interface {
	BroadcastMessage(message interface{})
}

var (
	mu          sync.RWMutex
	broadcaster MessageBroadcaster
)

// SetBroadcaster registers the sink used by Send. nil disables broadcasting.
func SetBroadcaster(b MessageBroadcaster) {
	mu.Lock()
	broadcaster = b
	mu.Unlock()
}

// Send forwards message to the registered broadcaster, if any.
func Send(message interface{}) {
	mu.RLock()
	b := broadcaster
	mu.RUnlock()
	if b != nil {
		b.BroadcastMessage(message)
	}
}
