package pipeline

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/decode"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
	"github.com/rackwise/rackwise-core/internal/relay"
	"github.com/rackwise/rackwise-core/internal/sink"
	"github.com/rackwise/rackwise-core/internal/state"
)

// Status represents the current lifecycle state of the pipeline.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusShuttingDown Status = "shutting_down"
	StatusStopped      Status = "stopped"
)

// Publisher publishes relay output back to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Broadcaster pushes canonical records to connected WebSocket clients.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// RecordWriter receives numeric telemetry points.
type RecordWriter interface {
	WriteRecord(rec *canonical.Record)
}

// Options carries the optional sinks and tuning knobs.
type Options struct {
	Workers         int
	QueueSize       int
	ShutdownTimeout time.Duration
	RelayQoS        byte

	Relay       *relay.Relay
	Cache       *sink.Cache
	Buffer      *sink.WriteBuffer
	Callbacks   *sink.Callbacks
	Telemetry   RecordWriter
	Publisher   Publisher
	Broadcaster Broadcaster
}

// Pipeline runs the ingest path: decode, map, state tracking, record
// assembly, then fanout to every configured sink. Frames for the same
// device always land on the same worker, preserving per-device order.
//
// A failing sink never blocks the others; each fanout leg is isolated.
//
// Thread Safety: HandleFrame is safe for concurrent use.
type Pipeline struct {
	log      *logging.Logger
	registry *decode.Registry
	mapper   *canonical.Mapper
	engine   *state.Engine
	builder  *canonical.Builder
	bus      *Bus
	opts     Options

	queues []chan decode.RawFrame
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	status Status

	processed atomic.Uint64
	relayed   atomic.Uint64

	dropMu sync.Mutex
	drops  map[string]uint64
}

// New assembles a pipeline. Any Options sink left nil is skipped
// during fanout.
func New(log *logging.Logger, registry *decode.Registry, mapper *canonical.Mapper,
	engine *state.Engine, builder *canonical.Builder, bus *Bus, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	return &Pipeline{
		log:      log,
		registry: registry,
		mapper:   mapper,
		engine:   engine,
		builder:  builder,
		bus:      bus,
		opts:     opts,
		status:   StatusInitializing,
		drops:    make(map[string]uint64),
	}
}

// Start launches the worker pool. The pipeline accepts frames until
// Stop is called or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.queues = make([]chan decode.RawFrame, p.opts.Workers)
	for i := range p.queues {
		p.queues[i] = make(chan decode.RawFrame, p.opts.QueueSize)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}

	p.setStatus(StatusRunning)
	p.log.Info("pipeline started",
		"workers", p.opts.Workers,
		"queue_size", p.opts.QueueSize)
}

// HandleFrame enqueues one raw frame for processing.
//
// Frames on topics the relay itself publishes to are ignored, which
// breaks the feedback loop when the relay output shares the broker
// with the gateway input.
//
// Returns:
//   - error: ErrNotRunning during shutdown, ErrQueueFull when the
//     device's worker queue is saturated
func (p *Pipeline) HandleFrame(topic string, payload []byte) error {
	if p.Status() != StatusRunning {
		p.countDrop("not_running")
		return ErrNotRunning
	}

	if p.opts.Relay != nil && p.opts.Relay.ShouldSkip(topic) {
		return nil
	}

	frame := decode.RawFrame{
		Topic:      topic,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	return p.enqueue(frame)
}

// enqueue recovers from the narrow race where a frame passes the
// status check while Stop is closing the queues.
func (p *Pipeline) enqueue(frame decode.RawFrame) (err error) {
	defer func() {
		if recover() != nil {
			p.countDrop("not_running")
			err = ErrNotRunning
		}
	}()

	queue := p.queues[shard(decode.DeviceIDFromTopic(frame.Topic), len(p.queues))]
	select {
	case queue <- frame:
		return nil
	default:
		p.countDrop("queue_full")
		p.log.Warn("worker queue full, frame dropped", "topic", frame.Topic)
		return ErrQueueFull
	}
}

func (p *Pipeline) worker(queue <-chan decode.RawFrame) {
	defer p.wg.Done()
	for frame := range queue {
		p.process(frame)
	}
}

func (p *Pipeline) process(frame decode.RawFrame) {
	records, err := p.registry.Decode(frame)
	if err != nil {
		p.countDrop("decode_error")
		p.log.Warn("frame decode failed", "topic", frame.Topic, "error", err)
		p.bus.Publish(EventError, err)
		return
	}

	for i := range records {
		rec, err := p.mapper.Map(records[i])
		if err != nil {
			p.countDrop("map_error")
			p.log.Warn("record mapping failed", "topic", frame.Topic, "error", err)
			p.bus.Publish(EventError, err)
			continue
		}

		// State tracking failure is not fatal: the record flows on
		// without change annotations.
		if err := p.engine.Update(&rec); err != nil {
			p.log.Warn("state update failed",
				"key", rec.Key(), "error", err)
			p.bus.Publish(EventStateError, err)
		}

		p.builder.Build(&rec, frame)
		p.fanout(&rec)

		p.processed.Add(1)
		p.bus.Publish(EventProcessed, &rec)
	}
}

// fanout delivers one finished record to every configured sink. Each
// leg is isolated so one sink's panic or error cannot starve the rest.
func (p *Pipeline) fanout(rec *canonical.Record) {
	if p.opts.Cache != nil {
		p.guard("cache", func() {
			p.opts.Cache.Set(rec.Key(), *rec)
		})
	}

	if p.opts.Buffer != nil {
		p.guard("write_buffer", func() {
			if err := p.opts.Buffer.Push(p.ctx, *rec); err != nil {
				p.log.Warn("write buffer rejected record", "error", err)
			}
		})
	}

	if p.opts.Broadcaster != nil {
		p.guard("websocket", func() {
			if payload, err := json.Marshal(rec); err == nil {
				p.opts.Broadcaster.Broadcast(payload)
			}
		})
	}

	if p.opts.Callbacks != nil {
		p.guard("callbacks", func() {
			go p.opts.Callbacks.Notify(p.ctx, rec)
		})
	}

	if p.opts.Telemetry != nil {
		p.guard("telemetry", func() {
			p.opts.Telemetry.WriteRecord(rec)
		})
	}

	if p.opts.Relay != nil && p.opts.Publisher != nil {
		p.guard("relay", func() {
			pub, err := p.opts.Relay.Transform(rec)
			if err != nil || pub == nil {
				return
			}
			if err := p.opts.Publisher.Publish(pub.Topic, pub.Payload, p.opts.RelayQoS, false); err != nil {
				p.log.Warn("relay publish failed", "topic", pub.Topic, "error", err)
				return
			}
			p.relayed.Add(1)
			p.bus.Publish(EventRelayed, pub)
		})
	}
}

func (p *Pipeline) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("sink panic", "sink", name, "panic", r)
		}
	}()
	fn()
}

// Stop drains the worker queues, waits up to the shutdown timeout, and
// flushes the write buffer. New frames are rejected immediately.
func (p *Pipeline) Stop() {
	p.setStatus(StatusShuttingDown)

	for _, q := range p.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.opts.ShutdownTimeout):
		p.log.Warn("shutdown drain deadline exceeded",
			"timeout", p.opts.ShutdownTimeout.String())
	}

	if p.opts.Buffer != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), p.opts.ShutdownTimeout)
		p.opts.Buffer.Close(flushCtx)
		cancel()
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.setStatus(StatusStopped)
	p.log.Info("pipeline stopped", "processed", p.processed.Load())
}

// Status returns the current lifecycle state.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Pipeline) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Status    Status            `json:"status"`
	Processed uint64            `json:"processed"`
	Relayed   uint64            `json:"relayed"`
	Drops     map[string]uint64 `json:"drops"`
}

// Metrics returns a snapshot of the pipeline counters.
func (p *Pipeline) Metrics() Stats {
	p.dropMu.Lock()
	drops := make(map[string]uint64, len(p.drops))
	for k, v := range p.drops {
		drops[k] = v
	}
	p.dropMu.Unlock()

	return Stats{
		Status:    p.Status(),
		Processed: p.processed.Load(),
		Relayed:   p.relayed.Load(),
		Drops:     drops,
	}
}

func (p *Pipeline) countDrop(reason string) {
	p.dropMu.Lock()
	p.drops[reason]++
	p.dropMu.Unlock()
}

// shard maps a device ID to a worker index so one device's frames are
// always processed in arrival order.
func shard(deviceID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(workers))
}
