package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/trigger"
)

// Worker runs the periodic jobs: the scheduled session trigger, the session
// expiry sweep, and the notification queue drain. Correctness never depends
// on it: expiry is enforced lazily at every read and the cron HTTP entry
// point can drive the trigger instead.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	m := metrics.New()

	var q notify.Queue
	if cfg.QueueBackend == "memory" {
		q = notify.NewInMemory(64)
	} else {
		q = notify.NewRedisQueue(redisClient.Client, "")
	}

	sessions := session.NewService(session.NewPostgresStore(db.Client), cfg.SessionMaxDuration, m)
	notifier := notify.NewQueueNotifier(q)
	runner := trigger.NewRunner(
		trigger.NewPostgresBindings(db.Client),
		sessions,
		notifier,
		cfg.SessionDuration,
		cfg.TriggerLookAhead,
		cfg.TriggerDedup,
		m,
	)

	go runner.Run(ctx, cfg.TriggerPoll)
	go sweepLoop(ctx, cfg, sessions)
	go drainNotifications(ctx, q)

	log.Printf("worker started: trigger every %s, sweep every %s", cfg.TriggerPoll, cfg.SweepInterval)
	<-ctx.Done()
	log.Println("worker stopped")
}
