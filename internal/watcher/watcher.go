// Package watcher implements the background rescan daemon. One timer per
// priority queue pulls due nodes in batches, re-checks each against the
// unverified web, adjusts confidence, requeues by velocity, and emits alerts
// for anomalies.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Krigsexe/Yggdrasil/internal/branches"
	"github.com/Krigsexe/Yggdrasil/internal/disinfo"
	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
)

const (
	// DefaultBatchSize bounds one queue sweep.
	DefaultBatchSize = 50
	// DefaultMaxConcurrent bounds in-flight node checks per sweep.
	DefaultMaxConcurrent = 10
	// DefaultAlertBufferSize bounds the in-memory alert ring.
	DefaultAlertBufferSize = 1000

	// maxAdjustment caps the trust-weighted confidence change per scan.
	maxAdjustment = 5.0
	// contradictionPenalty applies when two or more snippets contradict.
	contradictionPenalty = 20
	// spikeThreshold is the velocity alert bound in confidence points per
	// second.
	spikeThreshold = 0.1
	// dropThreshold is the absolute confidence drop that raises an alert.
	dropThreshold = 30
	// scanSnippetLimit bounds one web recheck.
	scanSnippetLimit = 5
)

// Config tunes the daemon. Zero values take defaults.
type Config struct {
	BatchSize       int
	MaxConcurrent   int
	AlertBufferSize int
	// Intervals overrides the per-queue tick interval (tests).
	Intervals map[model.PriorityQueue]time.Duration
}

// Stats is an atomic snapshot of daemon counters.
type Stats struct {
	Sweeps        int64 `json:"sweeps"`
	NodesScanned  int64 `json:"nodes_scanned"`
	NodesChanged  int64 `json:"nodes_changed"`
	ScanFailures  int64 `json:"scan_failures"`
	AlertsEmitted int64 `json:"alerts_emitted"`
}

// SweepResult reports one queue sweep.
type SweepResult struct {
	Queue   model.PriorityQueue
	Scanned int
	Changed int
	Failed  int
	Alerts  int
}

// Watcher is the rescan daemon.
type Watcher struct {
	ledger   *ledger.Ledger
	searcher branches.WebSearcher
	logger   *slog.Logger

	batchSize     int
	maxConcurrent int
	intervals     map[model.PriorityQueue]time.Duration

	sweeps        atomic.Int64
	nodesScanned  atomic.Int64
	nodesChanged  atomic.Int64
	scanFailures  atomic.Int64
	alertsEmitted atomic.Int64

	alertMu   sync.Mutex
	alertRing []model.Alert
	alertCap  int
}

// New creates a watcher over the ledger and an unverified-search collaborator.
func New(l *ledger.Ledger, searcher branches.WebSearcher, logger *slog.Logger, cfg Config) *Watcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.AlertBufferSize <= 0 {
		cfg.AlertBufferSize = DefaultAlertBufferSize
	}
	intervals := map[model.PriorityQueue]time.Duration{
		model.QueueHot:  model.ScanInterval(model.QueueHot),
		model.QueueWarm: model.ScanInterval(model.QueueWarm),
		model.QueueCold: model.ScanInterval(model.QueueCold),
	}
	for q, d := range cfg.Intervals {
		intervals[q] = d
	}
	return &Watcher{
		ledger:        l,
		searcher:      searcher,
		logger:        logger,
		batchSize:     cfg.BatchSize,
		maxConcurrent: cfg.MaxConcurrent,
		intervals:     intervals,
		alertCap:      cfg.AlertBufferSize,
	}
}

// Run blocks until ctx is cancelled, firing one sweep per queue interval.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher: starting",
		"hot", w.intervals[model.QueueHot], "warm", w.intervals[model.QueueWarm], "cold", w.intervals[model.QueueCold])

	var wg sync.WaitGroup
	for _, queue := range []model.PriorityQueue{model.QueueHot, model.QueueWarm, model.QueueCold} {
		wg.Add(1)
		go func(q model.PriorityQueue) {
			defer wg.Done()
			ticker := time.NewTicker(w.intervals[q])
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := w.Sweep(ctx, q); err != nil && ctx.Err() == nil {
						w.logger.Error("watcher: sweep failed", "queue", q, "error", err)
					}
				}
			}
		}(queue)
	}
	wg.Wait()
	w.logger.Info("watcher: stopped")
	return ctx.Err()
}

// Sweep scans one queue's due nodes. A failing node scan is counted and
// logged; it never aborts the batch.
func (w *Watcher) Sweep(ctx context.Context, queue model.PriorityQueue) (SweepResult, error) {
	result := SweepResult{Queue: queue}
	w.sweeps.Add(1)

	due, err := w.ledger.Store().DueNodes(ctx, queue, time.Now().UTC(), w.batchSize)
	if err != nil {
		return result, fmt.Errorf("watcher: fetch due nodes: %w", err)
	}
	if len(due) == 0 {
		return result, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.maxConcurrent)
	for _, node := range due {
		g.Go(func() error {
			outcome, err := w.scanNode(ctx, node)
			mu.Lock()
			defer mu.Unlock()
			result.Scanned++
			if err != nil {
				result.Failed++
				w.scanFailures.Add(1)
				w.logger.Warn("watcher: node scan failed", "node_id", node.ID, "error", err)
				return nil
			}
			if outcome.changed {
				result.Changed++
			}
			result.Alerts += outcome.alerts
			return nil
		})
	}
	_ = g.Wait()

	w.nodesScanned.Add(int64(result.Scanned))
	w.nodesChanged.Add(int64(result.Changed))
	w.recordMetrics(ctx, result)

	w.logger.Debug("watcher: sweep done",
		"queue", queue, "scanned", result.Scanned, "changed", result.Changed,
		"failed", result.Failed, "alerts", result.Alerts)
	return result, nil
}

var meter = otel.GetMeterProvider().Meter("yggdrasil/watcher")

// recordMetrics exports per-sweep counters. Best effort; instruments are
// lazily created.
func (w *Watcher) recordMetrics(ctx context.Context, result SweepResult) {
	attrs := otelmetric.WithAttributes(attribute.String("queue", string(result.Queue)))
	if c, err := meter.Int64Counter("watcher.nodes_scanned"); err == nil {
		c.Add(ctx, int64(result.Scanned), attrs)
	}
	if c, err := meter.Int64Counter("watcher.nodes_changed"); err == nil {
		c.Add(ctx, int64(result.Changed), attrs)
	}
	if c, err := meter.Int64Counter("watcher.scan_failures"); err == nil {
		c.Add(ctx, int64(result.Failed), attrs)
	}
	if c, err := meter.Int64Counter("watcher.alerts_emitted"); err == nil {
		c.Add(ctx, int64(result.Alerts), attrs)
	}
}

type scanOutcome struct {
	changed bool
	alerts  int
}

// scanNode rechecks one node against the web and applies the confidence
// heuristic: an adjustment of (avgTrust-50)/10 points capped at +-5, minus a
// fixed penalty when two or more snippets contradict.
func (w *Watcher) scanNode(ctx context.Context, node *model.KnowledgeNode) (scanOutcome, error) {
	var outcome scanOutcome

	snippets, err := w.searcher.Search(ctx, node.Statement, scanSnippetLimit)
	if err != nil {
		return outcome, fmt.Errorf("watcher: search: %w", err)
	}

	trustSum, accepted, contradictions := 0, 0, 0
	for _, snip := range snippets {
		var meta *disinfo.Metadata
		if snip.PublishedAt != nil {
			meta = &disinfo.Metadata{PublishedAt: snip.PublishedAt}
		}
		analysis := disinfo.Analyze(snip.URL, snip.Content, meta)
		if analysis.RiskScore >= 70 || analysis.Severity == disinfo.SeverityCritical {
			contradictions++
			continue
		}
		if analysis.Recommendation == disinfo.RecommendBlock {
			continue
		}
		trustSum += 100 - analysis.RiskScore
		accepted++
	}

	newConfidence := node.Confidence
	if accepted > 0 || contradictions > 0 {
		adjustment := 0.0
		if accepted > 0 {
			avgTrust := float64(trustSum) / float64(accepted)
			adjustment = (avgTrust - 50) * 0.1
			if adjustment > maxAdjustment {
				adjustment = maxAdjustment
			}
			if adjustment < -maxAdjustment {
				adjustment = -maxAdjustment
			}
		}
		if contradictions >= 2 {
			adjustment -= contradictionPenalty
		}
		newConfidence = clampConfidence(node.Confidence + int(adjustment))
	}

	update := ledger.ScanUpdate{Changed: newConfidence != node.Confidence}
	if update.Changed {
		update.NewConfidence = &newConfidence
	}
	updated, err := w.ledger.UpdateScanStatus(ctx, node.ID, update)
	if err != nil {
		return outcome, err
	}
	outcome.changed = update.Changed

	outcome.alerts = w.emitAlerts(ctx, node, updated, contradictions)
	return outcome, nil
}

// emitAlerts raises the anomaly alerts for one scanned node and returns how
// many were emitted.
func (w *Watcher) emitAlerts(ctx context.Context, before, after *model.KnowledgeNode, contradictions int) int {
	emitted := 0

	// Velocity in points per second.
	perSecond := after.Velocity * 1000
	if perSecond < 0 {
		perSecond = -perSecond
	}
	if perSecond > spikeThreshold {
		w.raise(ctx, model.Alert{
			ID:       uuid.New(),
			NodeID:   after.ID,
			Type:     model.AlertVelocitySpike,
			Severity: model.SeverityHigh,
			Message: fmt.Sprintf("confidence moving at %.2f points/s (%d -> %d)",
				perSecond, before.Confidence, after.Confidence),
			CreatedAt: time.Now().UTC(),
		})
		emitted++
	}

	if contradictions > 0 {
		w.raise(ctx, model.Alert{
			ID:        uuid.New(),
			NodeID:    after.ID,
			Type:      model.AlertContradiction,
			Severity:  model.SeverityCritical,
			Message:   fmt.Sprintf("%d contradicting snippet(s) on rescan", contradictions),
			CreatedAt: time.Now().UTC(),
		})
		emitted++
	}

	if drop := before.Confidence - after.Confidence; drop > dropThreshold {
		w.raise(ctx, model.Alert{
			ID:        uuid.New(),
			NodeID:    after.ID,
			Type:      model.AlertConfidenceDrop,
			Severity:  model.SeverityHigh,
			Message:   fmt.Sprintf("confidence dropped %d points (%d -> %d)", drop, before.Confidence, after.Confidence),
			CreatedAt: time.Now().UTC(),
		})
		emitted++
	}

	return emitted
}

// raise persists an alert and appends it to the bounded in-memory ring.
func (w *Watcher) raise(ctx context.Context, alert model.Alert) {
	if err := w.ledger.Store().InsertAlert(ctx, alert); err != nil {
		w.logger.Error("watcher: persist alert", "alert_id", alert.ID, "error", err)
	}

	w.alertMu.Lock()
	w.alertRing = append(w.alertRing, alert)
	if len(w.alertRing) > w.alertCap {
		w.alertRing = w.alertRing[len(w.alertRing)-w.alertCap:]
	}
	w.alertMu.Unlock()

	w.alertsEmitted.Add(1)
	w.logger.Info("watcher: alert",
		"type", alert.Type, "severity", alert.Severity, "node_id", alert.NodeID, "message", alert.Message)
}

// RecentAlerts returns up to limit buffered alerts, newest first.
func (w *Watcher) RecentAlerts(limit int) []model.Alert {
	w.alertMu.Lock()
	defer w.alertMu.Unlock()

	n := len(w.alertRing)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, w.alertRing[i])
	}
	return out
}

// Stats returns a snapshot of the daemon counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Sweeps:        w.sweeps.Load(),
		NodesScanned:  w.nodesScanned.Load(),
		NodesChanged:  w.nodesChanged.Load(),
		ScanFailures:  w.scanFailures.Load(),
		AlertsEmitted: w.alertsEmitted.Load(),
	}
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
