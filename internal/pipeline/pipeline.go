// Package pipeline runs the signal intake flow: normalize, validate,
// de-duplicate, persist, then orchestrate entries asynchronously on a
// bounded worker queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mstanton/tradepulse/internal/broker"
	"github.com/mstanton/tradepulse/internal/decision"
	"github.com/mstanton/tradepulse/internal/ingest"
	"github.com/mstanton/tradepulse/internal/marketctx"
	"github.com/mstanton/tradepulse/internal/marketdata"
	"github.com/mstanton/tradepulse/internal/models"
	"github.com/mstanton/tradepulse/internal/monitor"
	"github.com/mstanton/tradepulse/internal/positions"
	"github.com/mstanton/tradepulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// Outcome statuses reported synchronously to the webhook handler.
const (
	StatusAccepted       = "ACCEPTED"
	StatusPing           = "PING"
	StatusContextUpdated = "CONTEXT_UPDATED"
	StatusRejected       = "REJECTED"
	StatusDuplicate      = "DUPLICATE"
)

// Signal lifecycle statuses persisted alongside the signal row.
const (
	signalQueued       = "QUEUED"
	signalOrderPending = "ORDER_PENDING"
	signalFailed       = "FAILED"
)

// Outcome is the synchronous result of intake. Orchestration happens later
// on the worker queue; the webhook handler only learns whether the signal
// was accepted for processing. SignalID is set once normalization succeeds.
type Outcome struct {
	Status           string  `json:"status"`
	SignalID         string  `json:"signal_id,omitempty"`
	CorrelationID    string  `json:"correlation_id"`
	Reason           string  `json:"reason,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
}

// Config tunes the pipeline.
type Config struct {
	QueueDepth int
	Workers    int
	// PeerWindow bounds how far back confluence peers are gathered.
	PeerWindow time.Duration
	// SubmitTimeout bounds a single order submission including retries.
	SubmitTimeout time.Duration
}

// Pipeline owns signal intake and asynchronous entry orchestration.
type Pipeline struct {
	cfg          Config
	normalizer   *ingest.Normalizer
	validator    *ingest.Validator
	dedup        *ingest.DedupCache
	contextCache *marketctx.Cache
	orchestrator *decision.Orchestrator
	positions    *positions.Manager
	submitter    *broker.Submitter
	quotes       marketdata.Provider
	store        storage.Interface
	auditor      *monitor.Auditor
	metrics      *monitor.Metrics
	logger       *logrus.Logger
	now          func() time.Time

	queue  chan *models.Signal
	wg     sync.WaitGroup
	sendWG sync.WaitGroup
	once   sync.Once
}

// New wires the pipeline together.
func New(
	cfg Config,
	normalizer *ingest.Normalizer,
	validator *ingest.Validator,
	dedup *ingest.DedupCache,
	contextCache *marketctx.Cache,
	orchestrator *decision.Orchestrator,
	posManager *positions.Manager,
	submitter *broker.Submitter,
	quotes marketdata.Provider,
	store storage.Interface,
	auditor *monitor.Auditor,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Pipeline {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PeerWindow <= 0 {
		cfg.PeerWindow = 30 * time.Minute
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		cfg:          cfg,
		normalizer:   normalizer,
		validator:    validator,
		dedup:        dedup,
		contextCache: contextCache,
		orchestrator: orchestrator,
		positions:    posManager,
		submitter:    submitter,
		quotes:       quotes,
		store:        store,
		auditor:      auditor,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
		queue:        make(chan *models.Signal, cfg.QueueDepth),
	}
}

// WithClock injects a clock for tests and returns the pipeline.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Start launches the orchestration workers. Workers exit when ctx is
// cancelled or the queue is closed.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sig, ok := <-p.queue:
					if !ok {
						return
					}
					p.orchestrate(ctx, sig)
					if p.metrics != nil {
						p.metrics.QueueDepth.Set(float64(len(p.queue)))
					}
				}
			}
		}()
	}
}

// Stop waits for delayed hand-offs to land, closes the queue, and waits for
// in-flight orchestration to drain. Call Stop before cancelling the worker
// context so the queue can still be drained.
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		p.sendWG.Wait()
		close(p.queue)
	})
	p.wg.Wait()
}

// Process runs the synchronous intake stages for one decoded payload and
// returns immediately; accepted signals are orchestrated asynchronously. The
// raw payload is retained on pipeline failures for replay.
func (p *Pipeline) Process(ctx context.Context, payload map[string]any, raw []byte) Outcome {
	start := time.Now()
	out := p.process(ctx, payload, raw)
	elapsed := time.Since(start)
	out.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000
	if p.metrics != nil {
		p.metrics.IngestLatency.Observe(elapsed.Seconds())
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, payload map[string]any, raw []byte) Outcome {
	correlationID := uuid.New().String()

	if isContextPayload(payload) {
		return p.processContext(ctx, correlationID, payload, raw)
	}

	res := p.normalizer.Normalize(payload)
	if res.Ping {
		return Outcome{CorrelationID: correlationID, Status: StatusPing}
	}
	if len(res.Errors) > 0 {
		reasons := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			reasons[i] = e.Error()
		}
		reason := strings.Join(reasons, "; ")
		p.fail(ctx, correlationID, "normalize", reason, raw)
		return Outcome{CorrelationID: correlationID, Status: StatusRejected, Reason: reason}
	}

	sig := res.Signal
	sig.CorrelationID = correlationID
	if p.metrics != nil {
		p.metrics.SignalsReceived.WithLabelValues(string(sig.Source)).Inc()
	}

	if err := p.validator.ValidateSignal(sig); err != nil {
		p.fail(ctx, correlationID, "validate", err.Error(), raw)
		return Outcome{CorrelationID: correlationID, SignalID: sig.ID, Status: StatusRejected, Reason: err.Error()}
	}

	fingerprint := ingest.Fingerprint(sig)
	if p.dedup.Seen(fingerprint) {
		p.fail(ctx, correlationID, "dedup", "duplicate within suppression window", nil)
		return Outcome{CorrelationID: correlationID, SignalID: sig.ID, Status: StatusDuplicate}
	}

	if err := p.store.SaveSignal(ctx, sig, signalQueued); err != nil {
		p.logger.WithError(err).WithField("correlation_id", correlationID).Error("failed to persist signal")
	}
	if err := p.store.SaveRefactoredSignal(ctx, sig, fingerprint, signalQueued); err != nil {
		if errors.Is(err, storage.ErrDuplicateSignal) {
			p.fail(ctx, correlationID, "dedup", "duplicate fingerprint in store", nil)
			return Outcome{CorrelationID: correlationID, SignalID: sig.ID, Status: StatusDuplicate}
		}
		p.logger.WithError(err).WithField("correlation_id", correlationID).Error("failed to persist signal fingerprint")
	}

	if sig.Source == models.SourceGEX {
		p.recordGEXSignal(ctx, sig)
	}

	select {
	case p.queue <- sig:
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
		}
	default:
		// Saturated queue: the producer still gets an immediate accept and
		// the persisted signal stays QUEUED; a background hand-off delays
		// orchestration until a worker frees a slot.
		p.logger.WithFields(logrus.Fields{
			"correlation_id": correlationID,
			"signal_id":      sig.ID,
		}).Warn("orchestration queue saturated, delaying signal")
		p.sendWG.Add(1)
		go func() {
			defer p.sendWG.Done()
			p.queue <- sig
		}()
	}
	return Outcome{CorrelationID: correlationID, SignalID: sig.ID, Status: StatusAccepted}
}

// isContextPayload detects the market-context webhook shape.
func isContextPayload(payload map[string]any) bool {
	if typ, ok := payload["type"].(string); ok && strings.EqualFold(typ, "CONTEXT") {
		return true
	}
	_, hasVIX := payload["vix"]
	_, hasTrend := payload["trend"]
	return hasVIX && hasTrend
}

// processContext short-circuits CONTEXT webhooks: validate, persist the
// snapshot, refresh the cache. Context updates never reach orchestration.
func (p *Pipeline) processContext(ctx context.Context, correlationID string, payload map[string]any, raw []byte) Outcome {
	data := &models.ContextData{
		Trend:     models.Trend(strings.ToUpper(stringField(payload, "trend"))),
		Regime:    models.Regime(strings.ToUpper(stringField(payload, "regime"))),
		Timestamp: p.now().UTC(),
	}
	if v, ok := numberField(payload, "vix"); ok {
		data.VIX = v
	}
	if v, ok := numberField(payload, "bias"); ok {
		data.Bias = v
	}
	if data.Regime == "" {
		data.Regime = models.RegimeNormal
	}

	if err := p.validator.ValidateContext(data); err != nil {
		p.fail(ctx, correlationID, "context", err.Error(), raw)
		return Outcome{CorrelationID: correlationID, Status: StatusRejected, Reason: err.Error()}
	}

	if err := p.store.SaveContextSnapshot(ctx, correlationID, data); err != nil {
		p.logger.WithError(err).WithField("correlation_id", correlationID).Error("failed to persist context snapshot")
	}
	p.contextCache.Put(data)

	p.logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"vix":            data.VIX,
		"trend":          data.Trend,
		"regime":         data.Regime,
	}).Info("market context updated")
	return Outcome{CorrelationID: correlationID, Status: StatusContextUpdated}
}

// recordGEXSignal mirrors a GEX-sourced signal into the gamma-exposure store
// feeding the GEX service.
func (p *Pipeline) recordGEXSignal(ctx context.Context, sig *models.Signal) {
	strength := 1.0
	if v, ok := sig.MetaFloat(models.MetaStrength); ok {
		strength = v
	}
	g := &models.GEXSignal{
		Symbol:    sig.Symbol,
		Timeframe: sig.Timeframe,
		Direction: sig.Direction,
		Strength:  strength,
		Timestamp: sig.Timestamp,
	}
	if err := p.store.SaveGEXSignal(ctx, g); err != nil {
		p.logger.WithError(err).WithField("correlation_id", sig.CorrelationID).Error("failed to persist GEX reading")
	}
}

// orchestrate runs the asynchronous half: peers, entry decision, execution.
func (p *Pipeline) orchestrate(ctx context.Context, sig *models.Signal) {
	start := p.now()

	peers, err := p.store.PeerSignals(ctx, sig.Symbol, sig.Timeframe, p.now().Add(-p.cfg.PeerWindow))
	if err != nil {
		p.logger.WithError(err).WithField("correlation_id", sig.CorrelationID).Warn("peer lookup failed, scoring without confluence pool")
		peers = nil
	}

	d := p.orchestrator.OrchestrateEntry(ctx, sig, peers)
	if p.metrics != nil {
		p.metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	}
	p.auditor.EntryDecision(ctx, sig.CorrelationID, d)
	p.updateStatus(ctx, sig.ID, string(d.Decision))

	if d.Decision != models.ActionEnter {
		if p.metrics != nil {
			p.metrics.SignalsRejected.WithLabelValues("orchestrate").Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.SignalsAccepted.Inc()
	}
	p.executeEntry(ctx, sig, d)
}

// executeEntry resolves the contract, submits the opening order, and opens
// the position at the fill price.
func (p *Pipeline) executeEntry(ctx context.Context, sig *models.Signal, d *models.EntryDecision) {
	contract, err := p.resolveContract(sig)
	if err != nil {
		p.logger.WithError(err).WithField("correlation_id", sig.CorrelationID).Error("contract resolution failed")
		p.updateStatus(ctx, sig.ID, signalFailed)
		return
	}

	basePrice := p.basePrice(ctx, sig, contract)
	req := models.OrderRequest{
		ID:            uuid.New().String(),
		CorrelationID: sig.CorrelationID,
		SignalID:      sig.ID,
		OptionSymbol:  models.OCCSymbol(contract.Underlying, contract.Expiration, contract.OptionType, contract.Strike),
		Side:          models.SideBuyToOpen,
		Quantity:      d.PositionSize,
		Contract:      contract,
	}
	if err := p.store.SaveOrder(ctx, &req, &models.OrderResult{Status: models.OrderPending}); err != nil {
		p.logger.WithError(err).WithField("order_id", req.ID).Error("failed to persist order")
	}

	subCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout)
	defer cancel()
	res, trade, err := p.submitter.Submit(subCtx, req, basePrice)
	if err != nil {
		// The broker may still be working the order. Leave it PENDING for
		// the reconciliation poller instead of assuming failure.
		p.logger.WithError(err).WithField("order_id", req.ID).Error("order submission failed, leaving order pending")
		p.adapterLog(ctx, sig.CorrelationID, "submit_error", err.Error())
		p.updateStatus(ctx, sig.ID, signalOrderPending)
		return
	}

	if p.metrics != nil {
		p.metrics.OrdersSubmitted.WithLabelValues(string(req.Side), string(res.Status)).Inc()
	}
	if err := p.store.UpdateOrderStatus(ctx, req.ID, res.Status, res.FilledQuantity, res.AvgFillPrice); err != nil {
		p.logger.WithError(err).WithField("order_id", req.ID).Error("failed to update order status")
	}

	if res.Status != models.OrderFilled {
		p.adapterLog(ctx, sig.CorrelationID, "order_"+strings.ToLower(string(res.Status)), res.Error)
		p.updateStatus(ctx, sig.ID, string(res.Status))
		return
	}

	if trade != nil {
		if err := p.store.SaveTrade(ctx, trade); err != nil {
			p.logger.WithError(err).WithField("trade_id", trade.ID).Error("failed to persist trade")
		}
	}

	pos, err := p.positions.OpenPosition(ctx, sig, res.FilledQuantity, res.AvgFillPrice, contract)
	if err != nil {
		p.logger.WithError(err).WithField("correlation_id", sig.CorrelationID).Error("failed to open position after fill")
		return
	}
	if p.metrics != nil {
		p.metrics.OpenPositions.Set(float64(len(p.positions.Open())))
	}
	p.logger.WithFields(logrus.Fields{
		"correlation_id": sig.CorrelationID,
		"position_id":    pos.ID,
		"symbol":         req.OptionSymbol,
		"quantity":       pos.Quantity,
		"entry_price":    pos.EntryPrice,
	}).Info("position opened")
}

// resolveContract builds contract details from signal metadata, falling back
// to the nearest whole-dollar strike and the next Friday expiration.
func (p *Pipeline) resolveContract(sig *models.Signal) (models.ContractDetails, error) {
	contract := models.ContractDetails{
		Underlying: sig.Symbol,
		OptionType: sig.Direction,
		Timeframe:  sig.Timeframe,
	}

	if strike, ok := sig.MetaFloat(models.MetaStrike); ok && strike > 0 {
		contract.Strike = strike
	} else if sig.Price > 0 {
		contract.Strike = float64(int(sig.Price + 0.5))
	} else {
		return contract, fmt.Errorf("no strike hint and no price for %s", sig.Symbol)
	}

	if raw := sig.MetaString(models.MetaExpiration); raw != "" {
		exp, err := parseExpiration(raw)
		if err != nil {
			return contract, fmt.Errorf("bad expiration %q: %w", raw, err)
		}
		contract.Expiration = exp
	} else {
		contract.Expiration = nextFriday(p.now())
	}
	return contract, nil
}

// basePrice quotes the contract, falling back to the signal's entry-price
// hint when the book has no quote.
func (p *Pipeline) basePrice(ctx context.Context, sig *models.Signal, contract models.ContractDetails) float64 {
	if p.quotes != nil {
		q, err := p.quotes.GetOptionQuote(ctx, contract.Underlying, contract.Expiration, contract.Strike, contract.OptionType)
		if err == nil && q.Mid() > 0 {
			return q.Mid()
		}
	}
	return sig.EntryPrice()
}

func parseExpiration(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "060102"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

// nextFriday returns the next Friday at midnight UTC, today included.
func nextFriday(now time.Time) time.Time {
	now = now.UTC()
	days := (int(time.Friday) - int(now.Weekday()) + 7) % 7
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// numberField coerces numeric payload fields, accepting JSON numbers and
// numeric strings the same way signal normalization does.
func numberField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (p *Pipeline) fail(ctx context.Context, correlationID, stage, reason string, raw []byte) {
	if p.metrics != nil {
		p.metrics.PipelineFailures.WithLabelValues(stage).Inc()
	}
	p.auditor.PipelineFailure(ctx, &storage.PipelineFailure{
		CorrelationID: correlationID,
		Stage:         stage,
		Reason:        reason,
		Payload:       string(raw),
		CreatedAt:     p.now().UTC(),
	})
}

func (p *Pipeline) updateStatus(ctx context.Context, signalID, status string) {
	if err := p.store.UpdateSignalStatus(ctx, signalID, status); err != nil {
		p.logger.WithError(err).WithField("signal_id", signalID).Error("failed to update signal status")
	}
}

func (p *Pipeline) adapterLog(ctx context.Context, correlationID, event, detail string) {
	adapter := ""
	if p.submitter != nil {
		adapter = p.submitter.Adapter().Name()
	}
	if err := p.store.SaveAdapterLog(ctx, correlationID, adapter, event, detail); err != nil {
		p.logger.WithError(err).WithField("correlation_id", correlationID).Error("failed to persist adapter log")
	}
}
