package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeDeriveImage = "image:derive"

type DeriveImagePayload struct {
	RequestID   string                  `json:"request_id"`
	Request     domain.TransformRequest `json:"request"`
	RequestedAt time.Time               `json:"requested_at"`
}

func NewDeriveImageTask(payload DeriveImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal derive payload: %w", err)
	}
	return asynq.NewTask(TypeDeriveImage, body), nil
}

func ParseDeriveImagePayload(task *asynq.Task) (DeriveImagePayload, error) {
	var payload DeriveImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DeriveImagePayload{}, fmt.Errorf("unmarshal derive payload: %w", err)
	}
	return payload, nil
}
