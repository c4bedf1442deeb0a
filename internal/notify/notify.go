// Package notify delivers confirmation codes to the approver: by SMS in production and into the dev
// store when codes are returned to the client.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kallied-admin/backend/internal/devotp"
	"kallied-admin/backend/internal/gate"
	"kallied-admin/backend/internal/notify/sms"
)

// SMSSender sends a code to an E.164 number (digits only).
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// SMS sends every code to the configured approver phone.
type SMS struct {
	sender SMSSender
	phone  string
	logger *zap.Logger
}

// NewSMS returns an SMS dispatcher. approverPhone is normalised to E.164 using region.
func NewSMS(sender SMSSender, approverPhone, region string, logger *zap.Logger) (*SMS, error) {
	phone, err := sms.NormalizePhone(approverPhone, region)
	if err != nil {
		return nil, fmt.Errorf("approver phone: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMS{sender: sender, phone: phone, logger: logger}, nil
}

// Dispatch implements gate.Dispatcher.
func (s *SMS) Dispatch(ctx context.Context, d gate.Delivery) error {
	if err := s.sender.SendOTP(ctx, s.phone, d.Code); err != nil {
		return fmt.Errorf("sms dispatch %s: %w", d.ChallengeID, err)
	}
	s.logger.Debug("notify: code sent by sms",
		zap.String("challenge_id", d.ChallengeID),
		zap.String("kind", string(d.Action.Kind)))
	return nil
}

// DevStore writes codes to a devotp store until the challenge expires.
type DevStore struct {
	store devotp.Store
}

// NewDevStore returns a dispatcher writing into store.
func NewDevStore(store devotp.Store) *DevStore {
	return &DevStore{store: store}
}

// Dispatch implements gate.Dispatcher.
func (s *DevStore) Dispatch(ctx context.Context, d gate.Delivery) error {
	return s.store.Put(ctx, d.ChallengeID, d.Code, d.ExpiresAt)
}

// Multi dispatches to every dispatcher and joins their errors. One failing channel does not stop
// the others.
type Multi []gate.Dispatcher

// Dispatch implements gate.Dispatcher.
func (m Multi) Dispatch(ctx context.Context, d gate.Delivery) error {
	var errs []error
	for _, disp := range m {
		if disp == nil {
			continue
		}
		if err := disp.Dispatch(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
