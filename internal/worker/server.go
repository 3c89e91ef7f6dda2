package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mpesa-payment-service/internal/services"

	"github.com/hibiken/asynq"
)

type Worker struct {
	Reconcile *services.ReconcileService
}

func NewWorker(reconcile *services.ReconcileService) *Worker {
	return &Worker{Reconcile: reconcile}
}

func (w *Worker) HandleOrphanReconcile(ctx context.Context, t *asynq.Task) error {
	var p OrphanReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Reconcile.ReconcileOrphan(ctx, p.OrphanId)
}

// Run starts the asynq server and blocks until it stops.
func (w *Worker) Run(redisAddr string) error {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{Concurrency: 10},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOrphanReconcile, w.HandleOrphanReconcile)

	log.Println("Worker started, processing orphan reconciliation tasks")
	return srv.Run(mux)
}
