package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueDeriveImage schedules a cache warm-up. The task id is the canonical
// key, so a warm-up already waiting for the same artifact is not duplicated;
// duplicate reports whether that happened.
func (c *Client) EnqueueDeriveImage(ctx context.Context, payload DeriveImagePayload) (info *asynq.TaskInfo, duplicate bool, err error) {
	task, err := NewDeriveImageTask(payload)
	if err != nil {
		return nil, false, err
	}
	info, err = c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.Request.CanonicalKey()),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Retention(10*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return info, false, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
