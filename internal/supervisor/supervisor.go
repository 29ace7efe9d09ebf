// Package supervisor keeps log subscriptions to every watched factory alive
// and feeds decoded deployments to the resolution pipeline.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/devblac/launch-watch/internal/chain"
	"github.com/devblac/launch-watch/internal/config"
	"github.com/devblac/launch-watch/internal/logging"
	"github.com/devblac/launch-watch/internal/metrics"
	"github.com/devblac/launch-watch/internal/model"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateHealthy
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHealthy:
		return "healthy"
	default:
		return "unknown"
	}
}

// Status messages sent once per transition.
const (
	MsgConnectionLost     = "Chain connection lost, reconnecting."
	MsgConnectionRestored = "Chain connection restored."
)

// Handler consumes decoded deployments.
type Handler interface {
	Handle(ctx context.Context, ev model.DeploymentEvent)
}

// StatusNotifier receives connection transition messages.
type StatusNotifier interface {
	SendStatus(ctx context.Context, text string) error
}

// CursorStore persists the last seen block per watch.
type CursorStore interface {
	UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error
	GetCursor(ctx context.Context, sourceID string) (uint64, string, bool, error)
}

// Dialer opens a fresh chain connection.
type Dialer func(ctx context.Context) (chain.Client, error)

// AfterFunc schedules f after d and returns a stop function.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options tune a Supervisor.
type Options struct {
	ProbeInterval    time.Duration
	ReconnectBackoff time.Duration
	HandshakeTimeout time.Duration
	BackfillBlocks   uint64
	Workers          int
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Status           StatusNotifier
	Cursors          CursorStore
}

// OptionsFrom maps config sections onto Options.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		ProbeInterval:    cfg.Chain.ProbeInterval.Std(),
		ReconnectBackoff: cfg.Chain.ReconnectBackoff.Std(),
		HandshakeTimeout: cfg.Chain.HandshakeTimeout.Std(),
		BackfillBlocks:   cfg.Chain.BackfillBlocks,
		Workers:          cfg.Global.Workers,
	}
}

// Snapshot is a point-in-time view for status commands and health checks.
type Snapshot struct {
	State         State
	Since         time.Time
	Subscriptions int
	Watches       int
	Reconnects    int
	LastHead      uint64
}

// session is one live connection and the subscriptions running on it.
type session struct {
	id     uint64
	client chain.Client
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]bool
	busy   map[string]bool
}

func (s *session) setActive(id string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = v
}

func (s *session) isActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

// claim marks a dropped watch as being resubscribed. It fails when the watch
// is live or another goroutine already holds it.
func (s *session) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] || s.busy[id] {
		return false
	}
	s.busy[id] = true
	return true
}

func (s *session) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, id)
}

func (s *session) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.active {
		if v {
			n++
		}
	}
	return n
}

// Supervisor owns the chain connection. A reconnect replaces the session
// wholesale; the old client is closed before a new one is dialed.
type Supervisor struct {
	dial    Dialer
	watches []*chain.Watch
	handler Handler
	status  StatusNotifier
	cursors CursorStore
	logger  *slog.Logger
	metrics *metrics.Metrics

	probeInterval    time.Duration
	backoff          time.Duration
	handshakeTimeout time.Duration
	backfillBlocks   uint64
	workers          int
	afterFunc        AfterFunc
	nowFunc          func() time.Time

	events chan model.DeploymentEvent
	wg     sync.WaitGroup

	mu         sync.Mutex
	ctx        context.Context
	state      State
	since      time.Time
	current    *session
	nextID     uint64
	pending    bool
	stopTimer  func() bool
	lost       bool
	reconnects int
	lastHead   uint64
}

// New builds a supervisor over the given watches.
func New(dial Dialer, watches []*chain.Watch, handler Handler, opts Options) *Supervisor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = config.DefaultProbeInterval
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = config.DefaultReconnectBackoff
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = config.DefaultHandshakeTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Supervisor{
		dial:             dial,
		watches:          watches,
		handler:          handler,
		status:           opts.Status,
		cursors:          opts.Cursors,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		probeInterval:    opts.ProbeInterval,
		backoff:          opts.ReconnectBackoff,
		handshakeTimeout: opts.HandshakeTimeout,
		backfillBlocks:   opts.BackfillBlocks,
		workers:          opts.Workers,
		afterFunc:        realAfterFunc,
		nowFunc:          time.Now,
		events:           make(chan model.DeploymentEvent, opts.Workers*16),
		ctx:              context.Background(),
		since:            time.Now(),
	}
}

// Run connects, starts the workers and blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.watches) == 0 {
		return errors.New("no contracts to watch")
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
	s.wg.Add(1)
	s.attempt()

	<-ctx.Done()
	s.shutdown()
	s.wg.Wait()
	return nil
}

func (s *Supervisor) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handler.Handle(ctx, ev)
		}
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthy reports whether subscriptions are live and the last probe passed.
func (s *Supervisor) Healthy() bool {
	return s.State() == StateHealthy
}

// Ping satisfies health checkers.
func (s *Supervisor) Ping(context.Context) error {
	if st := s.State(); st != StateHealthy {
		return fmt.Errorf("chain %s", st)
	}
	return nil
}

// Snapshot returns counters for status reporting.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:      s.state,
		Since:      s.since,
		Watches:    len(s.watches),
		Reconnects: s.reconnects,
		LastHead:   s.lastHead,
	}
	sess := s.current
	s.mu.Unlock()
	if sess != nil {
		snap.Subscriptions = sess.activeCount()
	}
	return snap
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != st {
		s.state = st
		s.since = s.nowFunc()
	}
}

// ScheduleReconnect arms one reconnect attempt after the backoff. It is a
// no-op while an attempt is already scheduled or running.
func (s *Supervisor) ScheduleReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending || s.ctx.Err() != nil {
		return false
	}
	s.pending = true
	s.wg.Add(1)
	s.stopTimer = s.afterFunc(s.backoff, s.attempt)
	return true
}

// attempt runs one connection attempt. The pending flag stays set until it
// finishes so at most one attempt is in flight.
func (s *Supervisor) attempt() {
	defer s.wg.Done()
	s.mu.Lock()
	ctx := s.ctx
	s.stopTimer = nil
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	err := s.connect(ctx)

	// A session that died while this attempt held pending could not arm its
	// own reconnect, so arm it here.
	s.mu.Lock()
	s.pending = false
	lost := err == nil && s.current == nil
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	switch {
	case err != nil:
		s.logger.Warn("chain connect failed", "err", err, "retry_in", s.backoff.String())
		s.ScheduleReconnect()
	case lost:
		s.ScheduleReconnect()
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.setState(StateConnecting)
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	s.metrics.Reconnect()

	dctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	client, err := s.dial(dctx)
	if err != nil {
		cancel()
		s.setState(StateDisconnected)
		return fmt.Errorf("dial: %w", err)
	}
	head, err := client.BlockNumber(dctx)
	cancel()
	if err != nil {
		client.Close()
		s.setState(StateDisconnected)
		return fmt.Errorf("initial probe: %w", err)
	}

	sctx, scancel := context.WithCancel(ctx)
	sess := &session{client: client, ctx: sctx, cancel: scancel, active: map[string]bool{}, busy: map[string]bool{}}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		scancel()
		client.Close()
		return ctx.Err()
	}
	old := s.current
	s.nextID++
	sess.id = s.nextID
	s.current = sess
	s.lastHead = head
	wasLost := s.lost
	s.lost = false
	s.mu.Unlock()
	if old != nil {
		old.cancel()
		old.client.Close()
	}

	s.setState(StateConnected)
	s.metrics.SetConnected(true)

	for _, w := range s.watches {
		if err := s.subscribe(sess, w); err != nil {
			s.logger.Warn("subscribe failed", "watch", w.ID(), "err", err)
			continue
		}
		s.backfill(sess, w, head)
	}

	if !s.markHealthy(sess) {
		return errSessionLost
	}
	s.logger.Info("chain connected", "head", head, "subscriptions", sess.activeCount(), "watches", len(s.watches))
	if wasLost {
		s.notify(ctx, MsgConnectionRestored)
	}

	s.wg.Add(1)
	go s.probeLoop(sess)
	return nil
}

var errSessionLost = errors.New("connection lost while subscribing")

// markHealthy promotes sess to healthy only while it is still the live session.
func (s *Supervisor) markHealthy(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != sess || sess.ctx.Err() != nil {
		return false
	}
	if s.state != StateHealthy {
		s.state = StateHealthy
		s.since = s.nowFunc()
	}
	return true
}

// resubscribe restores one dropped watch. Only one goroutine per watch gets through.
func (s *Supervisor) resubscribe(sess *session, w *chain.Watch, head uint64) {
	if !sess.claim(w.ID()) {
		return
	}
	defer sess.release(w.ID())
	if err := s.subscribe(sess, w); err != nil {
		s.logger.Warn("resubscribe failed, retrying on next probe", "watch", w.ID(), "err", err)
		return
	}
	s.backfill(sess, w, head)
}

// subscribe starts one watch's log subscription on the session.
func (s *Supervisor) subscribe(sess *session, w *chain.Watch) error {
	logs := make(chan types.Log, 64)
	sub, err := sess.client.SubscribeFilterLogs(sess.ctx, w.Query(), logs)
	if err != nil {
		return err
	}
	sess.setActive(w.ID(), true)
	s.wg.Add(1)
	go s.consume(sess, w, sub, logs)
	return nil
}

func (s *Supervisor) consume(sess *session, w *chain.Watch, sub ethereum.Subscription, logs <-chan types.Log) {
	defer s.wg.Done()
	defer sub.Unsubscribe()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case err := <-sub.Err():
			sess.setActive(w.ID(), false)
			if sess.ctx.Err() != nil {
				return
			}
			s.logger.Warn("subscription dropped", "watch", w.ID(), "err", err)
			s.recoverSubscription(sess, w)
			return
		case lg := <-logs:
			s.dispatch(sess.ctx, w, lg)
		}
	}
}

// recoverSubscription resubscribes one watch if the connection still answers,
// otherwise declares the whole session dead.
func (s *Supervisor) recoverSubscription(sess *session, w *chain.Watch) {
	head, err := s.probe(sess)
	if err != nil {
		s.markDead(sess, err)
		return
	}
	s.resubscribe(sess, w, head)
}

func (s *Supervisor) probe(sess *session) (uint64, error) {
	ctx, cancel := context.WithTimeout(sess.ctx, s.handshakeTimeout)
	defer cancel()
	head, err := sess.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if head > s.lastHead {
		s.lastHead = head
	}
	s.mu.Unlock()
	return head, nil
}

// probeLoop is the authoritative liveness check; a failed probe tears the session down.
func (s *Supervisor) probeLoop(sess *session) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			head, err := s.probe(sess)
			if err != nil {
				if sess.ctx.Err() != nil {
					return
				}
				s.markDead(sess, err)
				return
			}
			for _, w := range s.watches {
				if !sess.isActive(w.ID()) {
					s.resubscribe(sess, w, head)
				}
			}
		}
	}
}

// markDead tears down a session once and arms a reconnect.
func (s *Supervisor) markDead(sess *session, cause error) {
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		return
	}
	s.current = nil
	notify := !s.lost
	s.lost = true
	ctx := s.ctx
	s.mu.Unlock()

	sess.cancel()
	sess.client.Close()
	s.setState(StateDisconnected)
	s.metrics.SetConnected(false)
	s.logger.Warn("chain connection lost", "err", cause, "retry_in", s.backoff.String())
	if notify {
		s.notify(ctx, MsgConnectionLost)
	}
	s.ScheduleReconnect()
}

func (s *Supervisor) notify(ctx context.Context, msg string) {
	if s.status == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()
	if err := s.status.SendStatus(nctx, msg); err != nil {
		s.logger.Warn("status message failed", "err", err)
	}
}

// dispatch decodes a log, records the cursor and queues the event.
func (s *Supervisor) dispatch(ctx context.Context, w *chain.Watch, lg types.Log) {
	ev, err := w.Decode(lg)
	switch {
	case errors.Is(err, chain.ErrNotWatched), errors.Is(err, chain.ErrRemoved):
		s.logger.Debug("log skipped", "watch", w.ID(), "tx", lg.TxHash.Hex(), "err", err)
		return
	case err != nil:
		s.metrics.DecodeError()
		s.logger.Warn("log dropped", "watch", w.ID(), "err", err)
		return
	}
	s.metrics.EventDecoded()

	if s.cursors != nil {
		if err := s.cursors.UpsertCursor(ctx, w.ID(), lg.BlockNumber, lg.BlockHash.Hex()); err != nil {
			s.logger.Warn("cursor update failed", "watch", w.ID(), "err", err)
		}
	}

	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// backfill replays logs between the stored cursor and head, bounded by backfillBlocks.
func (s *Supervisor) backfill(sess *session, w *chain.Watch, head uint64) {
	if s.cursors == nil || s.backfillBlocks == 0 {
		return
	}
	from, _, ok, err := s.cursors.GetCursor(sess.ctx, w.ID())
	if err != nil {
		s.logger.Warn("cursor read failed", "watch", w.ID(), "err", err)
		return
	}
	if !ok || from > head {
		return
	}
	if head-from > s.backfillBlocks {
		from = head - s.backfillBlocks
	}

	q := w.Query()
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(head)
	logs, err := sess.client.FilterLogs(sess.ctx, q)
	if err != nil {
		s.logger.Warn("backfill failed", "watch", w.ID(), "from", from, "to", head, "err", err)
		return
	}
	if len(logs) > 0 {
		s.logger.Info("backfilling", "watch", w.ID(), "from", from, "to", head, "logs", len(logs))
	}
	for _, lg := range logs {
		s.dispatch(sess.ctx, w, lg)
	}
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	sess := s.current
	s.current = nil
	stop := s.stopTimer
	s.stopTimer = nil
	s.mu.Unlock()

	if stop != nil && stop() {
		s.wg.Done()
	}
	if sess != nil {
		sess.cancel()
		sess.client.Close()
	}
	s.setState(StateDisconnected)
	s.metrics.SetConnected(false)
}
