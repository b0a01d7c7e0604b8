package notifications

import "context"

// Interface defines the contract for alert and digest delivery. The
// destination of an alert is a pure function of its label; the
// fingerprint travels with the alert so correction controls can point
// back at the stored announcement.
type Interface interface {
	SendAlert(ctx context.Context, message, label, fingerprint string) error
	SendDigest(ctx context.Context, message string) error
}
