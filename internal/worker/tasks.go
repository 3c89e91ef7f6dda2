package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeOrphanReconcile = "orphan:reconcile"
)

type OrphanReconcilePayload struct {
	OrphanId uint `json:"orphanId"`
}

func NewOrphanReconcileTask(payload OrphanReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrphanReconcile, data, asynq.MaxRetry(5)), nil
}

// Client wraps the asynq client behind the services.OrphanEnqueuer
// interface.
type Client struct {
	asynq *asynq.Client
}

func NewClient(client *asynq.Client) *Client {
	return &Client{asynq: client}
}

func (c *Client) EnqueueOrphanReconcile(orphanId uint, delay time.Duration) error {
	task, err := NewOrphanReconcileTask(OrphanReconcilePayload{OrphanId: orphanId})
	if err != nil {
		return err
	}
	_, err = c.asynq.Enqueue(task, asynq.ProcessIn(delay))
	return err
}
