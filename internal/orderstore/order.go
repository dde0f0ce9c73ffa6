// Package orderstore implements the filesystem-mediated order protocol:
// atomic claim/release via rename, archive-on-completion, corrupted-order
// quarantine, response files and outbox notifications.
package orderstore

import "time"

// Priority is the urgency of an order.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Media describes an attached media reference on an order.
type Media struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Order is the persisted record for one user request awaiting agent
// execution. One JSON file per order.
type Order struct {
	OrderID        string     `json:"orderId"`
	Payload        string     `json:"payload"`
	Timestamp      time.Time  `json:"timestamp"`
	SessionKey     string     `json:"sessionKey"`
	SenderID       string     `json:"senderId"`
	ChatID         string     `json:"chatId"`
	Channel        string     `json:"channel"`
	Priority       Priority   `json:"priority"`
	Project        string     `json:"project"`
	ScheduledFor   *time.Time `json:"scheduledFor,omitempty"`
	Media          *Media     `json:"media,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
}

// Severity is the urgency level of an outbox notification.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityAlert    Severity = "alert"
)

// Notification is a single outbox record.
type Notification struct {
	Type     string     `json:"type"`
	Severity Severity   `json:"severity"`
	From     string     `json:"from"`
	Message  string     `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Sent     bool       `json:"sent"`
	SentAt   *time.Time `json:"sentAt,omitempty"`
	ChatID   string     `json:"chatId,omitempty"`
	OrderID  string      `json:"orderId,omitempty"`
}
