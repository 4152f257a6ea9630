// Package psc implements the off-chain Produce-Submit-Confirm reactor: a
// single cooperative loop that produces L2 blocks locally, submits their
// L1 transactions, and polls for confirmation, advancing three
// watermarks as it goes. Produce, submit, and confirm each run as an
// independent goroutine that reports its result back over a channel; the
// loop itself never blocks on L1 I/O directly.
//
// Grounded on the same batch/seal loop and propose/assemble split,
// translated from an async task-select loop to Go's native goroutines
// and channel select.
package psc

import (
	"context"
	"fmt"
	"time"

	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// confirmPollInterval is the fixed poll period for checking an
// in-flight L1 transaction's inclusion status.
const confirmPollInterval = 3 * time.Second

// Watermarks are the three persisted, monotonically non-decreasing
// markers the pipeline advances: last_valid >= last_submitted >= last_confirmed.
type Watermarks struct {
	LastValid     uint64
	LastSubmitted uint64
	LastConfirmed uint64
}

// Config carries the pipeline's tunable depth limits and timers.
type Config struct {
	ProduceInterval     time.Duration
	LocalLimit          int
	SubmittedLimit      int
	SubmitErrorBackoff  time.Duration
	ConfirmErrorBackoff time.Duration
	ResendThreshold     time.Duration
}

// DefaultConfig returns the pipeline's default tuning.
func DefaultConfig() Config {
	return Config{
		ProduceInterval:     3 * time.Second,
		LocalLimit:          5,
		SubmittedLimit:      3,
		SubmitErrorBackoff:  20 * time.Second,
		ConfirmErrorBackoff: 3 * time.Second,
		ResendThreshold:     20 * time.Second,
	}
}

// Recover fills in default watermarks on startup: when submitted or
// confirmed are absent (zero) they default to last_valid, which is what
// a fresh chain or a migration from an older schema looks like.
func Recover(stored Watermarks) Watermarks {
	w := stored
	if w.LastSubmitted == 0 {
		w.LastSubmitted = w.LastValid
	}
	if w.LastConfirmed == 0 {
		w.LastConfirmed = w.LastValid
	}
	return w
}

// ProducedBlock is one locally-produced, not-yet-submitted L2 block
// together with its post global state.
type ProducedBlock struct {
	Block     gwtypes.L2Block
	PostState gwtypes.GlobalState
}

// L1Status is the observed inclusion status of a submitted L1 transaction.
type L1Status int

const (
	L1StatusUnknown L1Status = iota // "null": not yet visible, may warrant a resend
	L1StatusPending
	L1StatusCommitted
	L1StatusRejected
)

// Producer generates the next candidate block against the current tip.
type Producer interface {
	Produce(ctx context.Context) (ProducedBlock, error)
}

// Submitter composes and broadcasts the L1 transaction for a produced
// block, returning its L1 transaction hash.
type Submitter interface {
	Submit(ctx context.Context, pb ProducedBlock) (gwtypes.Hash, error)
}

// Resender optionally extends Submitter with the ability to rebroadcast
// an already-submitted transaction unchanged, used when confirm observes
// a prolonged "null" status.
type Resender interface {
	Resend(ctx context.Context, blockNumber uint64, txHash gwtypes.Hash) (gwtypes.Hash, error)
}

// StatusPoller polls an already-submitted L1 transaction's status.
type StatusPoller interface {
	PollStatus(ctx context.Context, txHash gwtypes.Hash) (L1Status, error)
}

// InputResolver checks whether an L1 cell input can still be resolved,
// i.e. has not been consumed or invalidated by a reorg.
type InputResolver interface {
	ResolveInput(ctx context.Context, outPoint gwtypes.Hash) (bool, error)
}

// ProbeDeadInput returns the first input the resolver reports as
// unresolvable, a best-effort diagnostic for a TransactionFailedToResolve
// submit error. It identifies the dead input only; regenerating the
// transaction around it is out of scope here.
func ProbeDeadInput(ctx context.Context, resolver InputResolver, inputs []gwtypes.Hash) (gwtypes.Hash, bool, error) {
	for _, in := range inputs {
		ok, err := resolver.ResolveInput(ctx, in)
		if err != nil {
			return gwtypes.Hash{}, false, fmt.Errorf("psc: probing input %s: %w", in, err)
		}
		if !ok {
			return in, true, nil
		}
	}
	return gwtypes.Hash{}, false, nil
}

// inFlight tracks one submitted-but-not-yet-confirmed L1 transaction.
type inFlight struct {
	blockNumber uint64
	txHash      gwtypes.Hash
	firstNullAt time.Time // zero until the first "null" status observation
}

// Reactor drives the produce/submit/confirm loop. submitting and syncing
// are the two boolean guards; localQueue/inFlightTx lengths are the
// local_count/submitted_count depth guards -- together the four guards
// a pure callback reactor needs in place of async task state.
type Reactor struct {
	cfg       Config
	producer  Producer
	submitter Submitter
	poller    StatusPoller

	marks Watermarks

	submitting bool
	syncing    bool

	localQueue []ProducedBlock
	inFlightTx []inFlight
}

// NewReactor constructs a Reactor over the given collaborators and
// recovered starting watermarks.
func NewReactor(cfg Config, producer Producer, submitter Submitter, poller StatusPoller, marks Watermarks) *Reactor {
	return &Reactor{cfg: cfg, producer: producer, submitter: submitter, poller: poller, marks: Recover(marks)}
}

// Watermarks returns the reactor's current watermark values.
func (r *Reactor) Watermarks() Watermarks { return r.marks }

func (r *Reactor) canProduce() bool {
	return len(r.localQueue) < r.cfg.LocalLimit
}

func (r *Reactor) canSubmit() bool {
	return !r.submitting && len(r.localQueue) > 0 && len(r.inFlightTx) < r.cfg.SubmittedLimit
}

type produceOutcome struct {
	pb  ProducedBlock
	err error
}

type submitOutcome struct {
	pb     ProducedBlock
	txHash gwtypes.Hash
	err    error
}

type confirmOutcome struct {
	idx    int
	status L1Status
	err    error
}

// Run drives the reactor loop until ctx is canceled or a fatal (non-
// transient) error surfaces from one of the three tasks.
func (r *Reactor) Run(ctx context.Context) error {
	produceTicker := time.NewTicker(r.cfg.ProduceInterval)
	defer produceTicker.Stop()
	confirmTicker := time.NewTicker(confirmPollInterval)
	defer confirmTicker.Stop()

	produceCh := make(chan produceOutcome, 1)
	submitCh := make(chan submitOutcome, 1)
	confirmCh := make(chan confirmOutcome, 1)

	var submitRetry <-chan time.Time

	startSubmit := func() {
		r.submitting = true
		pb := r.localQueue[0]
		go func() {
			txHash, err := r.submitter.Submit(ctx, pb)
			select {
			case submitCh <- submitOutcome{pb: pb, txHash: txHash, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-produceTicker.C:
			if !r.canProduce() {
				continue
			}
			go func() {
				pb, err := r.producer.Produce(ctx)
				select {
				case produceCh <- produceOutcome{pb, err}:
				case <-ctx.Done():
				}
			}()

		case out := <-produceCh:
			if out.err != nil {
				if !gwerrors.IsTransient(out.err) {
					return fmt.Errorf("psc: produce failed fatally: %w", out.err)
				}
				continue
			}
			r.localQueue = append(r.localQueue, out.pb)
			if out.pb.Block.Number+1 > r.marks.LastValid {
				r.marks.LastValid = out.pb.Block.Number + 1
			}
			if r.canSubmit() {
				startSubmit()
			}

		case <-submitRetry:
			submitRetry = nil
			if r.canSubmit() {
				startSubmit()
			}

		case out := <-submitCh:
			r.submitting = false
			if out.err != nil {
				if !gwerrors.IsTransient(out.err) {
					return fmt.Errorf("psc: submit failed fatally: %w", out.err)
				}
				submitRetry = time.After(r.cfg.SubmitErrorBackoff)
				continue
			}
			r.localQueue = r.localQueue[1:]
			r.inFlightTx = append(r.inFlightTx, inFlight{blockNumber: out.pb.Block.Number, txHash: out.txHash})
			if out.pb.Block.Number+1 > r.marks.LastSubmitted {
				r.marks.LastSubmitted = out.pb.Block.Number + 1
			}
			if r.canSubmit() {
				startSubmit()
			}

		case <-confirmTicker.C:
			if r.syncing || len(r.inFlightTx) == 0 {
				continue
			}
			r.syncing = true
			idx := 0 // confirm in L2-block-number order: the oldest in-flight tx first
			head := r.inFlightTx[idx]
			go func() {
				status, err := r.poller.PollStatus(ctx, head.txHash)
				select {
				case confirmCh <- confirmOutcome{idx: idx, status: status, err: err}:
				case <-ctx.Done():
				}
			}()

		case out := <-confirmCh:
			r.syncing = false
			if out.err != nil {
				continue
			}
			r.onConfirmResult(ctx, out)
		}
	}
}

func (r *Reactor) onConfirmResult(ctx context.Context, out confirmOutcome) {
	if out.idx >= len(r.inFlightTx) {
		return
	}
	entry := &r.inFlightTx[out.idx]
	switch out.status {
	case L1StatusCommitted:
		if entry.blockNumber+1 > r.marks.LastConfirmed {
			r.marks.LastConfirmed = entry.blockNumber + 1
		}
		r.inFlightTx = append(r.inFlightTx[:out.idx], r.inFlightTx[out.idx+1:]...)
	case L1StatusRejected:
		r.inFlightTx = append(r.inFlightTx[:out.idx], r.inFlightTx[out.idx+1:]...)
	case L1StatusUnknown:
		if entry.firstNullAt.IsZero() {
			entry.firstNullAt = time.Now()
			return
		}
		if time.Since(entry.firstNullAt) <= r.cfg.ResendThreshold {
			return
		}
		resender, ok := r.submitter.(Resender)
		if !ok {
			return
		}
		newHash, err := resender.Resend(ctx, entry.blockNumber, entry.txHash)
		if err == nil {
			entry.txHash = newHash
			entry.firstNullAt = time.Time{}
		}
	default:
	}
}
