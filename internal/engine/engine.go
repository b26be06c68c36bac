// Package engine hosts the visibility computation loop in its own goroutine.
//
// One goroutine owns the computer and the lifecycle manager; nothing else
// touches them. Scene snapshots and config updates cross in on bounded
// channels, smoothed connection batches cross out. Scene intake is throttled
// to one accepted request per update interval; excess requests are dropped,
// never queued, so a fast caller cannot build a backlog of stale work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/orb/orblink/internal/lifecycle"
	"github.com/orb/orblink/internal/metrics"
	"github.com/orb/orblink/internal/visibility"
)

// ErrUnavailable means the engine could not be constructed. Callers should
// run with the visibility feature disabled for the session rather than retry
// per cycle.
var ErrUnavailable = errors.New("visibility engine unavailable")

// advanceEvery is the cadence of the internal decay ticker. Independent of
// the scene update interval: lifecycle decay must progress even when no
// scenes arrive.
const advanceEvery = 250 * time.Millisecond

// Engine is the caller-side handle to the background context.
type Engine struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	sceneCh chan visibility.Scene
	cfgCh   chan ConfigUpdate
	updates chan Batch

	latest atomic.Pointer[Batch]

	closeOnce sync.Once
	done      chan struct{} // closed by Close
	stopped   chan struct{} // closed when the loop exits
}

// New starts the background loop. The returned error wraps ErrUnavailable
// when the configuration is unusable.
func New(visCfg visibility.Config, lifeCfg lifecycle.Config, logger *slog.Logger) (*Engine, error) {
	if err := validate(visCfg, lifeCfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	computer := visibility.NewComputer(visCfg, logger)

	e := &Engine{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(computer.Config().UpdateInterval), 1),
		sceneCh: make(chan visibility.Scene, 1),
		cfgCh:   make(chan ConfigUpdate, 1),
		updates: make(chan Batch, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go e.run(computer, lifecycle.NewManager(lifeCfg, logger))
	return e, nil
}

func validate(visCfg visibility.Config, lifeCfg lifecycle.Config) error {
	if visCfg.MinElevationDeg < -90 || visCfg.MinElevationDeg > 90 {
		return fmt.Errorf("minimum elevation %v° out of range", visCfg.MinElevationDeg)
	}
	if visCfg.UpdateInterval < 0 || visCfg.MaxRangeKm < 0 || visCfg.Workers < 0 {
		return errors.New("negative visibility parameter")
	}
	if lifeCfg.PersistenceWindow < 0 || lifeCfg.FadeWindow < 0 {
		return errors.New("negative lifecycle window")
	}
	if lifeCfg.OpacityFloor < 0 || lifeCfg.OpacityFloor > 1 {
		return fmt.Errorf("opacity floor %v out of range", lifeCfg.OpacityFloor)
	}
	return nil
}

// UpdateScene offers one scene snapshot to the loop. It reports whether the
// snapshot was accepted; a false return means the throttle (or a still-queued
// earlier snapshot, or teardown) dropped it. Never blocks.
func (e *Engine) UpdateScene(scene visibility.Scene) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	if !e.limiter.Allow() {
		metrics.IncSceneUpdatesDropped()
		return false
	}

	select {
	case e.sceneCh <- scene:
		return true
	default:
		metrics.IncSceneUpdatesDropped()
		return false
	}
}

// UpdateConfig sends a one-shot configuration message, applied atomically
// before the next cycle. Latest wins if the loop has not consumed a previous
// update yet.
func (e *Engine) UpdateConfig(upd ConfigUpdate) {
	select {
	case <-e.done:
		return
	default:
	}

	for {
		select {
		case e.cfgCh <- upd:
			return
		default:
		}
		select {
		case <-e.cfgCh:
		default:
		}
	}
}

// Latest returns the most recently emitted batch, or nil before the first
// cycle completes.
func (e *Engine) Latest() *Batch {
	return e.latest.Load()
}

// Updates exposes a capacity-1 latest-wins feed of emitted batches. Slow
// consumers see the freshest batch, never a backlog.
func (e *Engine) Updates() <-chan Batch {
	return e.updates
}

// Close tears the loop down. Idempotent; an in-flight cycle finishes and its
// result is discarded. Blocks until the loop goroutine has exited.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	<-e.stopped
}

// run is the loop goroutine. Exclusive owner of the computer and the manager.
func (e *Engine) run(computer *visibility.Computer, manager *lifecycle.Manager) {
	defer close(e.stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-e.done
		cancel()
	}()

	ticker := time.NewTicker(advanceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return

		case upd := <-e.cfgCh:
			computer = e.reconfigure(computer, upd)

		case scene := <-e.sceneCh:
			// Apply any pending config before evaluating.
			select {
			case upd := <-e.cfgCh:
				computer = e.reconfigure(computer, upd)
			default:
			}

			batch := computer.Evaluate(ctx, scene)
			select {
			case <-e.done:
				return // discard the completed cycle's result
			default:
			}
			now := time.Now()
			manager.Apply(batch, now)
			e.publish(manager, now)

		case now := <-ticker.C:
			manager.Advance(now)
			e.publish(manager, now)
		}
	}
}

// reconfigure folds a config update in and retunes the intake throttle. The
// computer is stateless, so a replacement is cheap.
func (e *Engine) reconfigure(computer *visibility.Computer, upd ConfigUpdate) *visibility.Computer {
	cfg, changed := upd.applyTo(computer.Config())
	if !changed {
		return computer
	}

	e.limiter.SetLimit(rate.Every(cfg.UpdateInterval))
	e.logger.Info("visibility config updated",
		"min_elevation_deg", cfg.MinElevationDeg,
		"atmospheric_refraction", cfg.AtmosphericRefraction,
		"update_interval", cfg.UpdateInterval,
	)
	return visibility.NewComputer(cfg, e.logger)
}

// publish stores the snapshot as the latest batch and pushes it onto the
// latest-wins update channel.
func (e *Engine) publish(manager *lifecycle.Manager, now time.Time) {
	batch := Batch{Connections: manager.Snapshot(now), At: now}
	e.latest.Store(&batch)

	for {
		select {
		case e.updates <- batch:
			return
		default:
		}
		select {
		case <-e.updates:
		default:
		}
	}
}
