package main

import (
	"context"
	"log"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/notify"
	"rollcall/internal/session"
)

// sweepLoop eagerly persists expiry so reports read accurate states without
// waiting for a lazy-read transition.
func sweepLoop(ctx context.Context, cfg config.App, sessions *session.Service) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.SweepExpired(ctx)
			if err != nil {
				log.Printf("expiry sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expiry sweep: %d session(s) expired", n)
			}
		}
	}
}

// drainNotifications performs the actual delivery attempt for queued
// messages. Delivery is the boundary with the surrounding application; here
// it is a log line standing in for mail/push.
func drainNotifications(ctx context.Context, q notify.Queue) {
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Printf("notification consume init failed: %v", err)
		return
	}
	sink := notify.LogNotifier{}
	for msg := range messages {
		deliverCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := sink.Deliver(deliverCtx, msg.Identity, msg.Payload); err != nil {
			log.Printf("deliver to %s failed: %v", msg.Identity, err)
		}
		cancel()
	}
}
