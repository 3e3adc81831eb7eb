package notify

import (
	"context"
	"log"
	"time"
)

// Notifier delivers a payload to an identity out-of-band. Delivery is
// best-effort everywhere in the engine: a failed send never rolls back the
// state transition that produced it.
type Notifier interface {
	Deliver(ctx context.Context, identity, payload string) error
}

// dispatchTimeout bounds every fire-and-forget send.
const dispatchTimeout = 2 * time.Second

// Dispatch sends asynchronously with a bounded timeout and logs failures.
// Callers never wait on it.
func Dispatch(n Notifier, identity, payload string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := n.Deliver(ctx, identity, payload); err != nil {
			log.Printf("notify %s failed: %v", identity, err)
		}
	}()
}

// LogNotifier writes deliveries to the process log. Dev default.
type LogNotifier struct{}

// Deliver logs the payload.
func (LogNotifier) Deliver(_ context.Context, identity, payload string) error {
	log.Printf("notify %s: %s", identity, payload)
	return nil
}
