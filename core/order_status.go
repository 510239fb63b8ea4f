package core

import (
	"strings"
	"sync"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusUnknown         OrderStatus = "UNKNOWN"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// rank orders statuses along the lifecycle. Terminal statuses share the top
// rank; UNKNOWN has none.
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPending:
		return 1
	case OrderStatusAccepted:
		return 2
	case OrderStatusPartiallyFilled:
		return 3
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return 4
	default:
		return 0
	}
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusAccepted,
		OrderStatusFilled,
		OrderStatusPartiallyFilled,
		OrderStatusCancelled,
		OrderStatusRejected,
		OrderStatusExpired,
		OrderStatusUnknown:
		return true
	default:
		return false
	}
}

// StatusMap translates broker status strings into canonical statuses. Keys
// are matched case-insensitively with separators folded to underscores.
type StatusMap map[string]OrderStatus

func NewStatusMap(entries map[string]OrderStatus) StatusMap {
	out := make(StatusMap, len(entries))
	for raw, status := range entries {
		out[normalizeRawStatus(raw)] = status
	}
	return out
}

func (m StatusMap) Normalize(raw string) OrderStatus {
	key := normalizeRawStatus(raw)
	if key == "" {
		return OrderStatusUnknown
	}
	if status, ok := m[key]; ok {
		return status
	}
	return OrderStatusUnknown
}

// Reverse returns the broker values that map to the canonical status, used
// when translating history filters into broker queries.
func (m StatusMap) Reverse(status OrderStatus) []string {
	out := make([]string, 0, 2)
	for raw, mapped := range m {
		if mapped == status {
			out = append(out, raw)
		}
	}
	return out
}

func normalizeRawStatus(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	return replacer.Replace(raw)
}

// StatusTracker remembers observed statuses for one session. A status only
// moves forward: a stale report ranking below the recorded one is ignored,
// and a terminal status is final.
type StatusTracker struct {
	mu       sync.Mutex
	statuses map[string]OrderStatus
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{statuses: map[string]OrderStatus{}}
}

// Observe records the reported status and returns the effective one.
func (t *StatusTracker) Observe(orderID string, reported OrderStatus) OrderStatus {
	if t == nil {
		return reported
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return reported
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.statuses[orderID]; ok {
		if current.IsTerminal() || reported.rank() < current.rank() || reported == OrderStatusUnknown {
			return current
		}
	}
	t.statuses[orderID] = reported
	return reported
}

func (t *StatusTracker) Status(orderID string) (OrderStatus, bool) {
	if t == nil {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[strings.TrimSpace(orderID)]
	return status, ok
}

// Apply runs the order through the tracker and rewrites its status.
func (t *StatusTracker) Apply(order NormalizedOrder) NormalizedOrder {
	order.Status = t.Observe(order.ID, order.Status)
	return order
}
