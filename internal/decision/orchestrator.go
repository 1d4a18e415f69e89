package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/mstanton/tradepulse/internal/gex"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/sirupsen/logrus"
)

// confluenceBoostPoints is added to confidence at HIGH confluence.
const confluenceBoostPoints = 10.0

// ContextProvider serves the latest market-context snapshot.
type ContextProvider interface {
	Get(ctx context.Context) (*models.ContextData, error)
}

// GEXProvider serves gamma-exposure readings for decisions.
type GEXProvider interface {
	LatestSignal(ctx context.Context, symbol, timeframe string) (*models.GEXSignal, error)
	EffectiveWeight(g *models.GEXSignal) float64
	DetectFlip(ctx context.Context, symbol, timeframe string) (*gex.FlipResult, error)
}

// ExposureChecker guards the portfolio-level exposure cap.
type ExposureChecker interface {
	WouldExceedMaxExposure(additional float64) bool
}

// OrchestratorConfig tunes the composition of the decision services.
type OrchestratorConfig struct {
	BaseConfidence      float64
	GEXAdjustmentRange  float64
	ProfitTargetPercent float64
	StopLossPercent     float64
	ContextTimeout      time.Duration
	// MarketClose resolves the exchange-local close for TIME_EXIT.
	MarketClose func(now time.Time) time.Time
}

// Orchestrator composes context, risk, GEX, confluence, sizing, and exposure
// checks into entry and exit decisions. All collaborators are injected; the
// orchestrator holds no back-references.
type Orchestrator struct {
	contextCache ContextProvider
	gexService   GEXProvider
	risk         *RiskManager
	confluence   *ConfluenceCalculator
	sizer        *Sizer
	exposure     ExposureChecker
	cfg          OrchestratorConfig
	logger       *logrus.Logger
	now          func() time.Time
}

// NewOrchestrator wires the decision services together.
func NewOrchestrator(
	contextCache ContextProvider,
	gexService GEXProvider,
	risk *RiskManager,
	confluence *ConfluenceCalculator,
	sizer *Sizer,
	exposure ExposureChecker,
	cfg OrchestratorConfig,
	logger *logrus.Logger,
) *Orchestrator {
	if cfg.ContextTimeout <= 0 {
		cfg.ContextTimeout = 5 * time.Second
	}
	if cfg.BaseConfidence <= 0 {
		cfg.BaseConfidence = 50
	}
	if cfg.GEXAdjustmentRange <= 0 {
		cfg.GEXAdjustmentRange = 15
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		contextCache: contextCache,
		gexService:   gexService,
		risk:         risk,
		confluence:   confluence,
		sizer:        sizer,
		exposure:     exposure,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock injects a clock for tests and returns the orchestrator.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// OrchestrateEntry runs the full entry flow for a signal against its
// same-timeframe peers and returns an auditable decision. It never returns
// an error: every failure becomes a REJECT with reasoning.
func (o *Orchestrator) OrchestrateEntry(ctx context.Context, sig *models.Signal, peers []models.Signal) *models.EntryDecision {
	d := &models.EntryDecision{
		Decision: models.ActionReject,
		Signal:   sig,
		Calculations: models.EntryCalculations{
			BaseConfidence: o.cfg.BaseConfidence,
		},
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.ContextTimeout)
	defer cancel()
	marketCtx, err := o.contextCache.Get(fetchCtx)
	if err != nil {
		d.Reasoning = append(d.Reasoning, "Market data unavailable")
		o.logger.WithError(err).WithField("signal_id", sig.ID).Warn("entry rejected: context fetch failed")
		return d
	}

	filters := o.risk.ApplyMarketFilters(sig, marketCtx)
	if !filters.Passed {
		d.Reasoning = append(d.Reasoning, filters.RejectionReason)
		return d
	}

	gexDelta, gexNote := o.gexAdjustment(ctx, sig)
	if gexNote != "" {
		d.Reasoning = append(d.Reasoning, gexNote)
	}
	d.Calculations.GEXDelta = gexDelta

	contextDelta := o.risk.ContextAdjustment(sig, marketCtx)
	positioningDelta := o.risk.PositioningAdjustment(marketCtx)
	d.Calculations.ContextDelta = contextDelta
	d.Calculations.PositioningDelta = positioningDelta

	confluenceScore := o.confluence.Score(sig, peers)
	d.Calculations.ConfluenceScore = confluenceScore
	var boost float64
	if confluenceScore >= confluenceHigh {
		boost = confluenceBoostPoints
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("High confluence %.2f", confluenceScore))
	}
	d.Calculations.ConfluenceBoost = boost

	confidence := clamp(o.cfg.BaseConfidence+contextDelta+positioningDelta+gexDelta+boost, 0, 100)
	d.Confidence = confidence
	d.Calculations.FinalConfidence = confidence
	d.Reasoning = append(d.Reasoning, fmt.Sprintf(
		"Confidence %.0f = base %.0f, context %+.0f, positioning %+.0f, gex %+.1f, confluence %+.0f",
		confidence, o.cfg.BaseConfidence, contextDelta, positioningDelta, gexDelta, boost))

	// With no peer pool the confluence multiplier stays neutral rather than
	// punishing a lone signal.
	sizingConfluence := confluenceScore
	if !hasPeerPool(sig, peers) {
		sizingConfluence = 0.5
	}
	sizing := o.sizer.Calculate(confidence, marketCtx.Regime, sizingConfluence, filters.PositionSizeMultiplier)
	d.Calculations.Sizing = sizing
	if sizing.FinalSize <= 0 {
		d.Reasoning = append(d.Reasoning, "Position size below minimum")
		return d
	}

	additional := sig.Price * float64(sizing.FinalSize) * models.SharesPerContract
	if o.exposure.WouldExceedMaxExposure(additional) {
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("Exposure cap exceeded by additional %.0f", additional))
		return d
	}

	d.Decision = models.ActionEnter
	d.PositionSize = sizing.FinalSize
	d.Reasoning = append(d.Reasoning, fmt.Sprintf("Enter %d contracts", sizing.FinalSize))
	return d
}

// gexAdjustment computes the GEX confidence delta. GEX unavailability is
// always recoverable: the delta degrades to zero with a reasoning note.
func (o *Orchestrator) gexAdjustment(ctx context.Context, sig *models.Signal) (float64, string) {
	g, err := o.gexService.LatestSignal(ctx, sig.Symbol, sig.Timeframe)
	if err != nil {
		return 0, "GEX unavailable, no positioning adjustment"
	}
	if g == nil {
		return 0, ""
	}
	strength := g.Strength
	if strength < 0 {
		strength = -strength
	}
	if g.Direction.Opposes(sig.Direction) {
		strength = -strength
	}
	return strength * o.gexService.EffectiveWeight(g) * o.cfg.GEXAdjustmentRange, ""
}

// hasPeerPool reports whether any peer shares the target's symbol and
// timeframe.
func hasPeerPool(target *models.Signal, peers []models.Signal) bool {
	for i := range peers {
		p := &peers[i]
		if p.Symbol == target.Symbol && p.Timeframe == target.Timeframe && p.ID != target.ID {
			return true
		}
	}
	return false
}

// OrchestrateExit evaluates exit rules for an open position at the given
// price, in strict priority order: PROFIT_TARGET, STOP_LOSS, GEX_FLIP,
// TIME_EXIT. Any panic degrades to HOLD; exits never crash the worker.
func (o *Orchestrator) OrchestrateExit(ctx context.Context, pos *models.Position, currentPrice float64) (d *models.ExitDecision) {
	d = &models.ExitDecision{
		Decision: models.ActionHold,
		Position: pos,
		Calculations: models.ExitCalculations{
			CurrentPrice: currentPrice,
			ProfitTarget: o.cfg.ProfitTargetPercent,
			StopLoss:     o.cfg.StopLossPercent,
		},
	}
	defer func() {
		if r := recover(); r != nil {
			d.Decision = models.ActionHold
			d.ExitReason = ""
			d.Reasoning = append(d.Reasoning, fmt.Sprintf("Exit evaluation failed: %v", r))
			o.logger.WithField("position_id", pos.ID).Errorf("exit orchestration panic: %v", r)
		}
	}()

	pnl := pos.UnrealizedPnLAt(currentPrice)
	pnlPct := pos.PnLPercentAt(currentPrice)
	d.Calculations.CurrentPnL = pnl
	d.Calculations.PnLPercent = pnlPct

	if pnlPct >= o.cfg.ProfitTargetPercent {
		d.Decision = models.ActionExit
		d.ExitReason = models.ExitProfitTarget
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("P&L %.1f%% reached profit target %.1f%%", pnlPct, o.cfg.ProfitTargetPercent))
		return d
	}
	if pnlPct <= o.cfg.StopLossPercent {
		d.Decision = models.ActionExit
		d.ExitReason = models.ExitStopLoss
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("P&L %.1f%% breached stop loss %.1f%%", pnlPct, o.cfg.StopLossPercent))
		return d
	}

	flip, err := o.gexService.DetectFlip(ctx, pos.Symbol, pos.Contract.Timeframe)
	if err != nil {
		d.Calculations.GEXEvaluated = false
		d.Reasoning = append(d.Reasoning, "GEX_FLIP not evaluated")
	} else {
		d.Calculations.GEXEvaluated = true
		if flip.HasFlipped && flip.Current != nil && flip.Current.Direction.Opposes(pos.Direction) {
			d.Decision = models.ActionExit
			d.ExitReason = models.ExitGEXFlip
			d.Reasoning = append(d.Reasoning, fmt.Sprintf(
				"Gamma positioning flipped %s -> %s against position", flip.Previous.Direction, flip.Current.Direction))
			return d
		}
	}

	if o.cfg.MarketClose != nil {
		now := o.now()
		if close := o.cfg.MarketClose(now); !now.Before(close) {
			d.Decision = models.ActionExit
			d.ExitReason = models.ExitTimeExit
			d.Reasoning = append(d.Reasoning, "Market close reached")
			return d
		}
	}

	d.Reasoning = append(d.Reasoning, "No exit rule matched")
	return d
}
