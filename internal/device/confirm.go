package device

import (
	"context"
	"fmt"
	"time"
)

// Answer is a confirmation outcome. TimedOut is treated as Decline.
type Answer uint8

const (
	AnswerDecline Answer = iota
	AnswerAccept
	AnswerTimedOut
)

func (a Answer) String() string {
	switch a {
	case AnswerAccept:
		return "accept"
	case AnswerTimedOut:
		return "timed_out"
	default:
		return "decline"
	}
}

// ConfirmRequest is handed to a Confirmer.
type ConfirmRequest struct {
	Summary string
	Timeout time.Duration
	Device  Descriptor
}

// Confirmer asks a human whether a device may operate. Implementations
// should return once ctx is done; the Authorizer does not wait for them
// past the timeout either way.
//
//go:generate mockgen -destination=mock_device.go -package=device github.com/kvthweatt/USB-Monitor/internal/device Confirmer,Clock
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (Answer, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, req ConfirmRequest) (Answer, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, req ConfirmRequest) (Answer, error) {
	return f(ctx, req)
}

// Summary renders the human-readable prompt for d.
func Summary(d Descriptor) string {
	desc := d.Description
	if desc == "" {
		desc = d.Class.String() + " device"
	}
	return fmt.Sprintf("Do you want to authorize the following USB device?\n\n"+
		"Device: %s\n"+
		"Class: %s (%s)\n"+
		"Vendor ID: 0x%04x\n"+
		"Product ID: 0x%04x\n"+
		"Bus: %d Address: %d",
		desc, d.Class, d.Class.Hex(),
		d.Identity.VendorID, d.Identity.ProductID,
		d.Identity.Bus, d.Identity.Address)
}
