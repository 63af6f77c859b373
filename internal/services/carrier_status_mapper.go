package services

import (
	"strings"
	"time"

	domain "github.com/weave/storefront/internal/domain"
)

// PlatformDateLayout is the day-first date convention used for customer-facing order dates.
const PlatformDateLayout = "02-01-2006"

var carrierStatusTable = map[int]domain.OrderLineStatus{
	13: domain.OrderLineStatusPickupError,
	20: domain.OrderLineStatusPickupException,
	15: domain.OrderLineStatusPickupRescheduled,
	19: domain.OrderLineStatusOutForPickup,
	42: domain.OrderLineStatusPickedUp,
	6:  domain.OrderLineStatusShipped,
	18: domain.OrderLineStatusInTransit,
	38: domain.OrderLineStatusReachedDestination,
	17: domain.OrderLineStatusOutForDelivery,
	7:  domain.OrderLineStatusDelivered,
	21: domain.OrderLineStatusUndelivered,
	22: domain.OrderLineStatusDelayed,
	24: domain.OrderLineStatusDestroyed,
	25: domain.OrderLineStatusDamaged,
	39: domain.OrderLineStatusMisrouted,
	12: domain.OrderLineStatusLost,
	16: domain.OrderLineStatusCancellationRequested,
	45: domain.OrderLineStatusCancelledBeforeDispatch,
	8:  domain.OrderLineStatusCancelled,
	9:  domain.OrderLineStatusReturn,
	14: domain.OrderLineStatusReturn,
	44: domain.OrderLineStatusReturn,
	40: domain.OrderLineStatusReturn,
	41: domain.OrderLineStatusReturn,
	46: domain.OrderLineStatusReturn,
	10: domain.OrderLineStatusReturn,
}

var deliveredDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"02/01/2006",
	"02 Jan 2006",
	"02 Jan 2006 15:04",
}

// StatusMapping is the outcome of mapping a tracking snapshot. Changed is false for carrier codes
// outside the table, in which case Status is empty and must not be applied.
type StatusMapping struct {
	Status      OrderLineStatus
	Changed     bool
	UpdatedDate *string
}

// CarrierStatusForCode looks up the internal status for a carrier tracking code.
func CarrierStatusForCode(code int) (OrderLineStatus, bool) {
	status, ok := carrierStatusTable[code]
	return status, ok
}

// MapCarrierStatus maps the snapshot's tracking code. For Delivered it also surfaces the delivered
// date of the first history entry that carries one, in listed order.
func MapCarrierStatus(snapshot TrackingSnapshot) StatusMapping {
	status, ok := CarrierStatusForCode(snapshot.TrackingCode)
	if !ok {
		return StatusMapping{}
	}
	mapping := StatusMapping{Status: status, Changed: true}
	if status == domain.OrderLineStatusDelivered {
		mapping.UpdatedDate = firstDeliveredDate(snapshot.History)
	}
	return mapping
}

func firstDeliveredDate(history []TrackingEvent) *string {
	for _, event := range history {
		raw := strings.TrimSpace(event.DeliveredDate)
		if raw == "" {
			continue
		}
		formatted := formatPlatformDate(raw)
		return &formatted
	}
	return nil
}

// formatPlatformDate rewrites carrier timestamps to the platform layout. Unrecognised values are
// kept verbatim so the delivered date is never dropped.
func formatPlatformDate(raw string) string {
	for _, layout := range deliveredDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format(PlatformDateLayout)
		}
	}
	return raw
}
