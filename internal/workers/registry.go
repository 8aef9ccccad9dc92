// Package workers tracks which translation workers are reachable on the bus
// and what each of them can run.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-s2s/internal/bus"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/protocol"
)

type Worker struct {
	ID             string    `json:"id"`
	ASR            string    `json:"asr"`
	MT             string    `json:"mt"`
	TTS            string    `json:"tts"`
	Languages      []string  `json:"languages"`
	MaxConcurrency int       `json:"max_concurrency"`
	LastSeen       time.Time `json:"last_seen"`
	Healthy        bool      `json:"healthy"`
}

type Registry struct {
	self    protocol.WorkerAnnounce
	timeout time.Duration
	log     *slog.Logger
	bus     *bus.Client
	clock   func() time.Time

	mu      sync.RWMutex
	workers map[string]*Worker

	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
}

// NewRegistry announces self on the bus and starts heartbeating. An empty
// self.WorkerID is derived from name.
func NewRegistry(ctx context.Context, cfg config.JobsConfig, name string, self protocol.WorkerAnnounce, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	if self.WorkerID == "" {
		self.WorkerID = cfg.WorkerID
	}
	if self.WorkerID == "" {
		self.WorkerID = name + "-" + uuid.NewString()[:8]
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		self:    self,
		timeout: time.Duration(cfg.HeartbeatTimeout) * time.Millisecond,
		log:     log.With(slog.String("component", "workers"), slog.String("worker_id", self.WorkerID)),
		bus:     busClient,
		clock:   time.Now,
		workers: make(map[string]*Worker),
		cancel:  cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	interval := time.Duration(cfg.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 2 * time.Second
	}
	r.heartbeat = time.NewTicker(interval)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
	}
	return r, nil
}

// ID is the identifier this node announces under.
func (r *Registry) ID() string { return r.self.WorkerID }

func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.cancel()
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectWorkerAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectWorkerHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := r.self
	msg.Timestamp = r.clock().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.update(msg, true)
	return r.bus.Conn().Publish(protocol.SubjectWorkerAnnounce, payload)
}

func (r *Registry) publishHeartbeat() error {
	payload, err := json.Marshal(protocol.WorkerHeartbeat{
		WorkerID:  r.self.WorkerID,
		Timestamp: r.clock().UTC(),
	})
	if err != nil {
		return err
	}
	r.touch(r.self.WorkerID, r.clock().UTC())
	return r.bus.Conn().Publish(protocol.HeartbeatSubject(r.self.WorkerID), payload)
}

// handleAnnounce records a peer. A peer seen for the first time gets our own
// announcement back so late joiners learn about existing workers.
func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.WorkerAnnounce
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if a.WorkerID == "" || a.WorkerID == r.self.WorkerID {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.clock().UTC()
	}
	if isNew := r.update(a, true); isNew {
		r.log.Info("worker joined", slog.String("peer", a.WorkerID))
		if err := r.announce(); err != nil {
			r.log.Warn("failed to answer announce", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.touch(hb.WorkerID, hb.Timestamp)
}

func (r *Registry) update(a protocol.WorkerAnnounce, healthy bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[a.WorkerID]
	if !ok {
		w = &Worker{ID: a.WorkerID}
		r.workers[a.WorkerID] = w
	}
	w.ASR, w.MT, w.TTS = a.ASR, a.MT, a.TTS
	w.Languages = append([]string(nil), a.Languages...)
	w.MaxConcurrency = a.MaxConcurrency
	w.LastSeen = a.Timestamp
	w.Healthy = healthy
	return !ok
}

// touch refreshes a known worker. Heartbeats from workers that never
// announced are ignored since their capabilities are unknown.
func (r *Registry) touch(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.LastSeen = at
		w.Healthy = true
	}
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	for _, w := range r.workers {
		if r.timeout > 0 && now.Sub(w.LastSeen) > r.timeout {
			w.Healthy = false
		}
	}
}

// Healthy reports whether this node still considers itself alive.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[r.self.WorkerID]
	return ok && w.Healthy
}

// Query returns copies of the workers matching filter, ordered by ID.
func (r *Registry) Query(filter func(Worker) bool) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Worker
	for _, w := range r.workers {
		c := *w
		c.Languages = append([]string(nil), w.Languages...)
		if filter == nil || filter(c) {
			results = append(results, c)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// WithLanguages matches healthy workers that registered every code.
func WithLanguages(codes ...string) func(Worker) bool {
	return func(w Worker) bool {
		if !w.Healthy {
			return false
		}
		for _, code := range codes {
			found := false
			for _, l := range w.Languages {
				if l == code {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-s2s/workers")
	total, err := meter.Int64ObservableGauge("loqa.s2s.workers", metric.WithDescription("Known translation workers"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("loqa.s2s.workers.healthy", metric.WithDescription("Workers with a recent heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		n, h := r.counts()
		obs.ObserveInt64(total, n)
		obs.ObserveInt64(healthy, h)
		return nil
	}, total, healthy)
	return err
}

func (r *Registry) counts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n, h int64
	for _, w := range r.workers {
		n++
		if w.Healthy {
			h++
		}
	}
	return n, h
}
