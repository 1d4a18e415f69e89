// Package monitor carries the observability surface: decision audit
// logging, Prometheus metrics, and dependency health tracking.
package monitor

import (
	"context"

	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// DecisionStore is the persistence subset the auditor writes through.
type DecisionStore interface {
	SaveEntryDecision(ctx context.Context, correlationID string, d *models.EntryDecision) error
	SaveExitDecision(ctx context.Context, correlationID string, d *models.ExitDecision) error
	SavePipelineFailure(ctx context.Context, f *storage.PipelineFailure) error
}

// Auditor records every decision with its full calculation trail, to the
// structured log and to the store. Persistence failures are logged and
// swallowed: an audit outage must never block trading.
type Auditor struct {
	store  DecisionStore
	logger *logrus.Logger
}

// NewAuditor creates an Auditor.
func NewAuditor(store DecisionStore, logger *logrus.Logger) *Auditor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Auditor{store: store, logger: logger}
}

// EntryDecision records an entry decision.
func (a *Auditor) EntryDecision(ctx context.Context, correlationID string, d *models.EntryDecision) {
	fields := logrus.Fields{
		"correlation_id": correlationID,
		"decision":       d.Decision,
		"confidence":     d.Confidence,
		"position_size":  d.PositionSize,
		"reasoning":      d.Reasoning,
	}
	if d.Signal != nil {
		fields["signal_id"] = d.Signal.ID
		fields["symbol"] = d.Signal.Symbol
		fields["direction"] = d.Signal.Direction
	}
	a.logger.WithFields(fields).Info("entry decision")

	if err := a.store.SaveEntryDecision(ctx, correlationID, d); err != nil {
		a.logger.WithError(err).WithField("correlation_id", correlationID).Error("failed to persist entry decision")
	}
}

// ExitDecision records an exit decision.
func (a *Auditor) ExitDecision(ctx context.Context, correlationID string, d *models.ExitDecision) {
	fields := logrus.Fields{
		"correlation_id": correlationID,
		"decision":       d.Decision,
		"exit_reason":    d.ExitReason,
		"pnl_percent":    d.Calculations.PnLPercent,
		"reasoning":      d.Reasoning,
	}
	if d.Position != nil {
		fields["position_id"] = d.Position.ID
		fields["symbol"] = d.Position.Symbol
	}
	a.logger.WithFields(fields).Info("exit decision")

	if err := a.store.SaveExitDecision(ctx, correlationID, d); err != nil {
		a.logger.WithError(err).WithField("correlation_id", correlationID).Error("failed to persist exit decision")
	}
}

// PipelineFailure records a signal dropped at a named stage.
func (a *Auditor) PipelineFailure(ctx context.Context, f *storage.PipelineFailure) {
	a.logger.WithFields(logrus.Fields{
		"correlation_id": f.CorrelationID,
		"stage":          f.Stage,
		"reason":         f.Reason,
	}).Warn("pipeline failure")

	if err := a.store.SavePipelineFailure(ctx, f); err != nil {
		a.logger.WithError(err).WithField("correlation_id", f.CorrelationID).Error("failed to persist pipeline failure")
	}
}
