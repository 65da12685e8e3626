package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"routstr-proxy/pkg/logger"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const settlementStream = "settlements"

// Rail identifies which payment rail a settlement event belongs to
// (spec.md §4.E).
type Rail string

const (
	RailAccount Rail = "account"
	RailCashu   Rail = "cashu"
)

// SettlementRecorded is published once per completed pipeline (spec.md §4.J)
// so settlement outcomes can be reconciled against upstream billing out of
// band. It is published synchronously from the request handler, after the
// response body has been written.
type SettlementRecorded struct {
	EventID      string `json:"event_id"`
	RequestID    string `json:"request_id"`
	Rail         Rail   `json:"rail"`
	HashedKey    string `json:"hashed_key,omitempty"`
	Model        string `json:"model,omitempty"`
	PreAuthMsat  int64  `json:"pre_auth_msat"`
	FinalMsat    int64  `json:"final_msat"`
	RefundMsat   int64  `json:"refund_msat"`
	EmergencyRef bool   `json:"emergency_refund"`
}

// ToJSON serializes the event to JSON bytes.
func (e *SettlementRecorded) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement event: %w", err)
	}
	return data, nil
}

// FromJSONSettlement deserializes and validates a SettlementRecorded event.
func FromJSONSettlement(data []byte) (*SettlementRecorded, error) {
	msg := &SettlementRecorded{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement event: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks that a SettlementRecorded event has the fields required
// to reconcile it later.
func (e *SettlementRecorded) Validate() error {
	if e.RequestID == "" {
		return errors.New("request_id is required")
	}
	if e.Rail != RailAccount && e.Rail != RailCashu {
		return fmt.Errorf("rail must be %q or %q", RailAccount, RailCashu)
	}
	if e.PreAuthMsat < 0 || e.FinalMsat < 0 {
		return errors.New("pre_auth_msat and final_msat must be non-negative")
	}
	return nil
}

// Recorder publishes settlement events to the audit stream. It never blocks
// settlement on a publish failure — a lost audit event is recoverable from
// the ledger/mint directly, an unsettled charge is not.
type Recorder struct {
	queue *StreamQueue
}

// NewRecorder constructs a Recorder over an already-declared stream.
func NewRecorder(queue *StreamQueue) *Recorder {
	return &Recorder{queue: queue}
}

// Record publishes a settlement outcome, best-effort. EventID is a ULID
// rather than a UUID so reconciliation can sort events by creation order
// without a separate timestamp field.
func (r *Recorder) Record(ctx context.Context, event SettlementRecorded) {
	if event.EventID == "" {
		event.EventID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}

	payload, err := event.ToJSON()
	if err != nil {
		logger.Error("failed to serialize settlement event", zap.String("request_id", event.RequestID), zap.Error(err))
		return
	}

	if _, err := r.queue.Publish(ctx, settlementStream, payload); err != nil {
		logger.Error("failed to publish settlement event",
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
	}
}
