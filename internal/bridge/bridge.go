package bridge

import (
	"context"
	"sort"
	"time"

	"github.com/tublink/tublink-core/internal/errtrack"
	"github.com/tublink/tublink-core/internal/gateway"
	"github.com/tublink/tublink-core/internal/infrastructure/config"
	"github.com/tublink/tublink-core/internal/state"
	"github.com/tublink/tublink-core/internal/sweep"
)

// errorSummaryInterval is how often subsystem health goes out.
const errorSummaryInterval = time.Minute

// Telemetry receives polled spa readings; satisfied by the InfluxDB
// client.
type Telemetry interface {
	WriteSpaMetric(spaID, measurement string, value float64)
}

// ResultSource reads recorded sweep verdicts; satisfied by
// sweep.Repository.
type ResultSource interface {
	LoadResults(ctx context.Context, spaID string) (map[sweep.UnitKey]sweep.UnitResult, error)
}

// Bridge owns the poll loop and the MQTT lifecycle of one spa.
type Bridge struct {
	cfg     *config.Config
	gw      gateway.Gateway
	rec     *state.Reconciler
	pub     *Publisher
	intake  *Intake
	errs    *errtrack.Tracker
	results ResultSource
	metrics Telemetry
	log     Logger
}

// New assembles a bridge. results and metrics may be nil.
func New(cfg *config.Config, gw gateway.Gateway, rec *state.Reconciler, pub *Publisher, intake *Intake, errs *errtrack.Tracker, results ResultSource, metrics Telemetry, log Logger) *Bridge {
	return &Bridge{
		cfg:     cfg,
		gw:      gw,
		rec:     rec,
		pub:     pub,
		intake:  intake,
		errs:    errs,
		results: results,
		metrics: metrics,
		log:     log,
	}
}

// OnReconnect is wired to the MQTT client's connect callback: a broker
// reconnect means retained state may be stale, so the next poll
// republishes everything.
func (b *Bridge) OnReconnect() {
	b.log.Info("mqtt reconnected, scheduling full republish")
	b.rec.ForceRepublish()
}

// Run polls the spa until ctx ends. The initial poll, component meta,
// and write-topic subscriptions happen up front; failures there are
// tolerated and retried by the loop.
func (b *Bridge) Run(ctx context.Context) error {
	b.pollOnce(ctx)
	b.publishMeta(ctx)
	if err := b.intake.Start(ctx); err != nil {
		return err
	}
	b.pub.PublishDiscoveryStatus("idle")
	b.pub.PublishErrorSummary(b.errs.Summary())

	pollTicker := time.NewTicker(b.cfg.GetPollInterval())
	defer pollTicker.Stop()
	summaryTicker := time.NewTicker(errorSummaryInterval)
	defer summaryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			b.pollOnce(ctx)
		case <-summaryTicker.C:
			b.pub.PublishErrorSummary(b.errs.Summary())
		}
	}
}

// pollOnce reads the full spa state and publishes what changed.
func (b *Bridge) pollOnce(ctx context.Context) {
	snap, err := b.gw.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		b.rec.RecordPollFailure()
		b.errs.Record(errtrack.CategoryCloudAPI, pollSeverity(err), err.Error())
		b.log.Warn("poll failed", "error", err)
		return
	}

	changes := b.rec.Ingest(snap)
	if len(changes) > 0 {
		b.log.Debug("publishing state changes", "count", len(changes))
		b.pub.PublishChanges(changes)
	}

	if b.metrics != nil {
		if status, ok := snap.Components[gateway.TargetID{Kind: gateway.KindStatus}]; ok {
			if temp, has := status.Float("water_temperature"); has {
				b.metrics.WriteSpaMetric(snap.SpaID, "water_temperature_c", temp)
			}
		}
	}
}

func pollSeverity(err error) errtrack.Severity {
	if gateway.IsTransport(err) {
		return errtrack.SeverityWarning
	}
	return errtrack.SeverityError
}

// publishMeta advertises each discovered component and, for lights,
// the modes recorded by earlier sweeps.
func (b *Bridge) publishMeta(ctx context.Context) {
	supported := b.supportedModes(ctx)

	for target := range b.snapshotTargets() {
		switch target.Kind {
		case gateway.KindLight:
			b.pub.PublishLightMeta(target.Zone, supported[target.Zone])
		case gateway.KindPump:
			b.pub.PublishPumpMeta(target.Zone)
		case gateway.KindHeater:
			b.pub.PublishHeaterMeta()
		}
	}
}

// snapshotTargets enumerates the components the reconciler has seen.
func (b *Bridge) snapshotTargets() map[gateway.TargetID]struct{} {
	targets := make(map[gateway.TargetID]struct{})
	for _, kind := range gateway.AllComponentKinds() {
		switch kind {
		case gateway.KindHeater, gateway.KindStatus:
			if _, ok := b.rec.Current(gateway.TargetID{Kind: kind}); ok {
				targets[gateway.TargetID{Kind: kind}] = struct{}{}
			}
		default:
			// Zones are small integers; probing a bounded range keeps
			// the reconciler API narrow.
			for zone := 1; zone <= 8; zone++ {
				id := gateway.TargetID{Kind: kind, Zone: zone}
				if _, ok := b.rec.Current(id); ok {
					targets[id] = struct{}{}
				}
			}
		}
	}
	return targets
}

// supportedModes folds recorded sweep verdicts into per-zone mode
// lists.
func (b *Bridge) supportedModes(ctx context.Context) map[int][]string {
	if b.results == nil {
		return nil
	}
	recorded, err := b.results.LoadResults(ctx, b.cfg.Cloud.SpaID)
	if err != nil {
		b.log.Debug("could not load sweep results for meta", "error", err)
		return nil
	}

	seen := make(map[int]map[string]bool)
	for key, res := range recorded {
		if res.Outcome != sweep.OutcomeSupported {
			continue
		}
		if seen[key.Zone] == nil {
			seen[key.Zone] = make(map[string]bool)
		}
		seen[key.Zone][key.Mode] = true
	}

	out := make(map[int][]string, len(seen))
	for zone, modes := range seen {
		list := make([]string, 0, len(modes))
		for m := range modes {
			list = append(list, m)
		}
		sort.Strings(list)
		out[zone] = list
	}
	return out
}

// PublishSweepFinished is wired to the sweep engine's completion
// callback.
func (b *Bridge) PublishSweepFinished(s sweep.Summary) {
	b.pub.PublishDiscoveryResult(s)
	switch s.Status {
	case sweep.RunCompleted:
		b.pub.PublishDiscoveryStatus("completed")
	case sweep.RunStopped:
		b.pub.PublishDiscoveryStatus("stopped")
	default:
		b.pub.PublishDiscoveryStatus("idle")
	}
	// Fresh verdicts change the advertised mode lists.
	b.publishMeta(context.Background())
}

// PublishSweepProgress is wired to the progress tracker's observer.
func (b *Bridge) PublishSweepProgress(snap sweep.ProgressSnapshot) {
	b.pub.PublishDiscoveryProgress(snap)
}
