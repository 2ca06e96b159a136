package domain

import "time"

// DeliverySource описывает, кто инициировал отправку.
type DeliverySource string

const (
	SourceScheduled DeliverySource = "scheduled"
	SourceImmediate DeliverySource = "immediate"
)

// DeliveryStatus итог попытки.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryEvent публикуется после каждой попытки отправки.
type DeliveryEvent struct {
	ID       string         `json:"event_id"`
	TaskID   string         `json:"task_id,omitempty"`
	Source   DeliverySource `json:"source"`
	Account  string         `json:"account,omitempty"`
	TargetID string         `json:"target_id"`
	Kind     ContentKind    `json:"kind"`
	Status   DeliveryStatus `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	At       time.Time      `json:"at"`
}
