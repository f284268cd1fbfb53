package events

// Topic constants for domain events emitted by the pricing and order packages.
const (
	TopicCartUpdated        = "cart.updated"
	TopicOrderPlaced        = "order.placed"
	TopicOrderSettled       = "order.settled"
	TopicOrderCompensated   = "order.compensated"
	TaskOrderPlaced         = "order:placed"
	defaultPlacementRetries = 8
)

// DefaultTopics returns the canonical list of topics the bus persists.
func DefaultTopics() []string {
	return []string{
		TopicCartUpdated,
		TopicOrderPlaced,
		TopicOrderSettled,
		TopicOrderCompensated,
	}
}

// TaskTypeFor returns the asynq task type consuming topic, if any.
func TaskTypeFor(topic string) (string, bool) {
	switch topic {
	case TopicOrderPlaced:
		return TaskOrderPlaced, true
	default:
		return "", false
	}
}

// OrderPlacedPayload is the payload of order.placed and of the order:placed task.
type OrderPlacedPayload struct {
	OrderID string `json:"order_id"`
}

// OrderSettledPayload is the payload of order.settled.
type OrderSettledPayload struct {
	OrderID     string   `json:"order_id"`
	ChildIDs    []string `json:"child_ids"`
	CouponTotal int64    `json:"coupon_total"`
	PointUsed   int64    `json:"point_used"`
}

// OrderCompensatedPayload is the payload of order.compensated.
type OrderCompensatedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
