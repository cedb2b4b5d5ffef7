// Package notify announces inspections that reached a terminal state.
package notify

import (
	"context"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
)

// Notifier receives every inspection that enters a terminal state. Delivery
// is best-effort; implementations must not block the caller on retries.
type Notifier interface {
	InspectionFinished(ctx context.Context, insp domain.Inspection)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) InspectionFinished(context.Context, domain.Inspection) {}
