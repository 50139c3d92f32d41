// Package coordinator implements command dispatch, echo suppression, debounce,
// best-effort publication, and backpressure for inbound commands. It is
// the single fan-in/fan-out point between protocol
// adapters and the domain handlers that mutate the state store and drive
// the reconciler and pipeline manager.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sumire-audio/zonehub/internal/catalog"
	"github.com/sumire-audio/zonehub/internal/domain"
	"github.com/sumire-audio/zonehub/internal/pipeline"
	"github.com/sumire-audio/zonehub/internal/reconciler"
	"github.com/sumire-audio/zonehub/internal/snapcast"
	"github.com/sumire-audio/zonehub/internal/statestore"
)

var allSourceProtocols = []domain.SourceProtocol{
	domain.SourceAPI, domain.SourceMQTT, domain.SourceKNX, domain.SourceSnapcast, domain.SourceInternal,
}

// Config tunes the coordinator's windows and capacities, all overridable
// with sensible defaults.
type Config struct {
	EchoWindow      time.Duration
	DebounceWindow  time.Duration
	BackpressureCap int
	Stripes         int
}

// Coordinator is the single fan-in/fan-out point for commands and status.
type Coordinator struct {
	store   *statestore.Store
	pipe    *pipeline.Manager
	snap    *snapcast.Client
	catalog *catalog.Provider
	recon   *reconciler.Reconciler
	log     *slog.Logger

	echoWindow     time.Duration
	debounceWindow time.Duration
	cap            int

	stripes *stripedPool

	queuesMu sync.Mutex
	queues   map[domain.SourceProtocol]chan TaggedCommand

	debounceMu sync.Mutex
	debounce   map[string]*debounceEntry

	echoMu sync.Mutex
	echoes map[string]time.Time

	adaptersMu sync.RWMutex
	adapters   []Egress
}

type debounceEntry struct {
	latest TaggedCommand
	timer  *time.Timer
}

// New wires a Coordinator against the components it dispatches to.
func New(store *statestore.Store, pipe *pipeline.Manager, snap *snapcast.Client, cat *catalog.Provider, recon *reconciler.Reconciler, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = 200 * time.Millisecond
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 50 * time.Millisecond
	}
	if cfg.BackpressureCap <= 0 {
		cfg.BackpressureCap = 1024
	}

	c := &Coordinator{
		store:          store,
		pipe:           pipe,
		snap:           snap,
		catalog:        cat,
		recon:          recon,
		log:            log,
		echoWindow:     cfg.EchoWindow,
		debounceWindow: cfg.DebounceWindow,
		cap:            cfg.BackpressureCap,
		stripes:        newStripedPool(cfg.Stripes),
		queues:         make(map[domain.SourceProtocol]chan TaggedCommand, len(allSourceProtocols)),
		debounce:       make(map[string]*debounceEntry),
		echoes:         make(map[string]time.Time),
	}
	for _, p := range allSourceProtocols {
		c.queues[p] = make(chan TaggedCommand, cfg.BackpressureCap)
	}
	return c
}

// RegisterEgress attaches an outbound protocol adapter. Must be called
// before Run.
func (c *Coordinator) RegisterEgress(e Egress) {
	c.adaptersMu.Lock()
	defer c.adaptersMu.Unlock()
	c.adapters = append(c.adapters, e)
}

// Run drains every source queue until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range allSourceProtocols {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.drainSource(ctx, p)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (c *Coordinator) drainSource(ctx context.Context, source domain.SourceProtocol) {
	queue := c.queues[source]
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-queue:
			c.debounceSubmit(ctx, cmd)
		}
	}
}

// Submit enqueues a command for processing, applying the per-source
// backpressure policy when the queue is full.
func (c *Coordinator) Submit(cmd TaggedCommand) error {
	c.queuesMu.Lock()
	queue, ok := c.queues[cmd.Source]
	c.queuesMu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: unknown source protocol %q", cmd.Source)
	}
	if cmd.SubmittedAt.IsZero() {
		cmd.SubmittedAt = time.Now()
	}

	select {
	case queue <- cmd:
		return nil
	default:
	}

	if cmd.Kind.IsIdempotent() {
		// Oldest-drop: make room by discarding the head, then enqueue.
		select {
		case <-queue:
		default:
		}
		select {
		case queue <- cmd:
		default:
		}
		return nil
	}

	// Newest-drop: the queue is full of non-idempotent work; this command
	// is discarded rather than displacing anything already queued.
	c.log.Warn("coordinator: dropping command, source queue full", "source", cmd.Source, "kind", cmd.Kind)
	return nil
}

// debounceSubmit collapses rapid-fire commands on the same (entity, field)
// pair within the debounce window, applying only the last value seen.
func (c *Coordinator) debounceSubmit(ctx context.Context, cmd TaggedCommand) {
	key := debounceKey(cmd)

	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if entry, exists := c.debounce[key]; exists {
		entry.latest = cmd
		return
	}

	entry := &debounceEntry{latest: cmd}
	entry.timer = time.AfterFunc(c.debounceWindow, func() {
		c.debounceMu.Lock()
		fired := entry.latest
		delete(c.debounce, key)
		c.debounceMu.Unlock()
		c.dispatch(ctx, fired)
	})
	c.debounce[key] = entry
}

func debounceKey(cmd TaggedCommand) string {
	return fmt.Sprintf("%s:%d:%s", cmd.entityKind(), cmd.entityID(), cmd.field())
}

// dispatch serializes application of cmd against every other command
// targeting the same entity, via the striped worker pool.
func (c *Coordinator) dispatch(ctx context.Context, cmd TaggedCommand) {
	stripeKey := fmt.Sprintf("%s:%d", cmd.entityKind(), cmd.entityID())
	c.stripes.submit(stripeKey, func() {
		events, err := c.handle(ctx, cmd)
		if err != nil {
			c.log.Warn("command handling failed", "kind", cmd.Kind, "source", cmd.Source, "error", err)
			return
		}
		for _, ev := range events {
			c.recordEcho(ev, cmd.Source)
			c.publish(ev)
		}
	})
}

func (c *Coordinator) recordEcho(ev StatusEvent, source domain.SourceProtocol) {
	c.echoMu.Lock()
	defer c.echoMu.Unlock()
	c.echoes[echoKey(ev, source)] = time.Now()
}

func echoKey(ev StatusEvent, source domain.SourceProtocol) string {
	return fmt.Sprintf("%s:%d:%s:%s", ev.EntityKind, ev.EntityID, ev.Field, source)
}

// publish fans ev out to every registered adapter except one whose
// protocol recently originated this exact change.
// Each adapter is notified on its own goroutine so a slow one never blocks
// the others.
func (c *Coordinator) publish(ev StatusEvent) {
	c.adaptersMu.RLock()
	adapters := make([]Egress, len(c.adapters))
	copy(adapters, c.adapters)
	c.adaptersMu.RUnlock()

	for _, a := range adapters {
		a := a
		if c.isEcho(ev, a.Protocol()) {
			continue
		}
		go a.Publish(ev)
	}
}

func (c *Coordinator) isEcho(ev StatusEvent, protocol domain.SourceProtocol) bool {
	c.echoMu.Lock()
	defer c.echoMu.Unlock()
	at, ok := c.echoes[echoKey(ev, protocol)]
	return ok && time.Since(at) < c.echoWindow
}
