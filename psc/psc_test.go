package psc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godwokenrises/godwoken-core/gwtypes"
)

func TestRecoverDefaultsFromLastValid(t *testing.T) {
	got := Recover(Watermarks{LastValid: 42})
	if got.LastSubmitted != 42 || got.LastConfirmed != 42 {
		t.Fatalf("expected both absent watermarks to default to 42, got %+v", got)
	}
}

func TestRecoverPreservesExplicitValues(t *testing.T) {
	got := Recover(Watermarks{LastValid: 42, LastSubmitted: 40, LastConfirmed: 38})
	if got.LastSubmitted != 40 || got.LastConfirmed != 38 {
		t.Fatalf("expected explicit watermarks preserved, got %+v", got)
	}
}

func TestReactorGuards(t *testing.T) {
	cfg := Config{LocalLimit: 2, SubmittedLimit: 1}
	r := NewReactor(cfg, nil, nil, nil, Watermarks{})

	if !r.canProduce() {
		t.Fatal("expected canProduce true with empty queue")
	}
	r.localQueue = append(r.localQueue, ProducedBlock{}, ProducedBlock{})
	if r.canProduce() {
		t.Fatal("expected canProduce false at local_limit")
	}

	r.localQueue = []ProducedBlock{{}}
	if !r.canSubmit() {
		t.Fatal("expected canSubmit true with one queued block and no in-flight")
	}
	r.inFlightTx = append(r.inFlightTx, inFlight{blockNumber: 1})
	if r.canSubmit() {
		t.Fatal("expected canSubmit false at submitted_limit")
	}
}

func TestCanSubmitBlockedWhileSubmitting(t *testing.T) {
	r := NewReactor(DefaultConfig(), nil, nil, nil, Watermarks{})
	r.localQueue = []ProducedBlock{{}}
	r.submitting = true
	if r.canSubmit() {
		t.Fatal("expected canSubmit false while a submit is already in flight")
	}
}

type fakeResolver struct {
	dead gwtypes.Hash
}

func (f fakeResolver) ResolveInput(ctx context.Context, outPoint gwtypes.Hash) (bool, error) {
	return outPoint != f.dead, nil
}

func TestProbeDeadInputFindsFirstDead(t *testing.T) {
	resolver := fakeResolver{dead: gwtypes.Hash{2}}
	inputs := []gwtypes.Hash{{1}, {2}, {3}}
	dead, found, err := ProbeDeadInput(context.Background(), resolver, inputs)
	if err != nil {
		t.Fatalf("ProbeDeadInput: %v", err)
	}
	if !found || dead != (gwtypes.Hash{2}) {
		t.Fatalf("expected to find hash {2} dead, got %v found=%v", dead, found)
	}
}

func TestProbeDeadInputAllResolve(t *testing.T) {
	resolver := fakeResolver{dead: gwtypes.Hash{99}}
	inputs := []gwtypes.Hash{{1}, {2}, {3}}
	_, found, err := ProbeDeadInput(context.Background(), resolver, inputs)
	if err != nil {
		t.Fatalf("ProbeDeadInput: %v", err)
	}
	if found {
		t.Fatal("expected no dead input when all resolve")
	}
}

// fakeProducer hands out strictly increasing block numbers, one per call.
type fakeProducer struct {
	next uint64
}

func (p *fakeProducer) Produce(ctx context.Context) (ProducedBlock, error) {
	n := p.next
	p.next++
	return ProducedBlock{Block: gwtypes.L2Block{Number: n}}, nil
}

// fakeSubmitter immediately "succeeds", returning a hash derived from the
// block number so the test can trace which block a confirm refers to.
type fakeSubmitter struct {
	submitCount int32
}

func (s *fakeSubmitter) Submit(ctx context.Context, pb ProducedBlock) (gwtypes.Hash, error) {
	atomic.AddInt32(&s.submitCount, 1)
	return gwtypes.Hash{byte(pb.Block.Number + 1)}, nil
}

// fakePoller reports every polled transaction Committed on the first ask.
type fakePoller struct {
	polls int32
}

func (p *fakePoller) PollStatus(ctx context.Context, txHash gwtypes.Hash) (L1Status, error) {
	atomic.AddInt32(&p.polls, 1)
	return L1StatusCommitted, nil
}

func TestRunAdvancesWatermarksEndToEnd(t *testing.T) {
	cfg := Config{
		ProduceInterval:     5 * time.Millisecond,
		LocalLimit:          5,
		SubmittedLimit:      3,
		SubmitErrorBackoff:  50 * time.Millisecond,
		ConfirmErrorBackoff: 50 * time.Millisecond,
		ResendThreshold:     time.Second,
	}
	producer := &fakeProducer{}
	submitter := &fakeSubmitter{}
	poller := &fakePoller{}
	r := NewReactor(cfg, producer, submitter, poller, Watermarks{})

	ctx, cancel := context.WithTimeout(context.Background(), confirmPollInterval+time.Second)
	defer cancel()

	err := r.Run(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	marks := r.Watermarks()
	if marks.LastValid == 0 {
		t.Fatal("expected last_valid to advance past zero")
	}
	if marks.LastConfirmed == 0 {
		t.Fatal("expected at least one confirmation to land within the test window")
	}
	if marks.LastConfirmed > marks.LastSubmitted || marks.LastSubmitted > marks.LastValid {
		t.Fatalf("expected last_confirmed <= last_submitted <= last_valid, got %+v", marks)
	}
}

func TestOnConfirmResultIgnoresOutOfRangeIndex(t *testing.T) {
	r := NewReactor(DefaultConfig(), nil, nil, nil, Watermarks{})
	// no in-flight entries; must not panic on an index past the slice end.
	r.onConfirmResult(context.Background(), confirmOutcome{idx: 0, status: L1StatusCommitted})
}

func TestOnConfirmResultAdvancesLastConfirmed(t *testing.T) {
	r := NewReactor(DefaultConfig(), nil, nil, nil, Watermarks{LastConfirmed: 3})
	r.inFlightTx = []inFlight{{blockNumber: 7}}
	r.onConfirmResult(context.Background(), confirmOutcome{idx: 0, status: L1StatusCommitted})
	if r.Watermarks().LastConfirmed != 8 {
		t.Fatalf("expected last_confirmed advanced to 8, got %d", r.Watermarks().LastConfirmed)
	}
	if len(r.inFlightTx) != 0 {
		t.Fatal("expected committed entry removed from in-flight set")
	}
}

func TestOnConfirmResultRejectedDropsEntry(t *testing.T) {
	r := NewReactor(DefaultConfig(), nil, nil, nil, Watermarks{})
	r.inFlightTx = []inFlight{{blockNumber: 7}}
	r.onConfirmResult(context.Background(), confirmOutcome{idx: 0, status: L1StatusRejected})
	if len(r.inFlightTx) != 0 {
		t.Fatal("expected rejected entry removed from in-flight set")
	}
	if r.Watermarks().LastConfirmed != 0 {
		t.Fatal("expected last_confirmed untouched by a rejection")
	}
}

func TestOnConfirmResultUnknownMarksFirstNullThenLeavesEntry(t *testing.T) {
	r := NewReactor(DefaultConfig(), nil, nil, nil, Watermarks{})
	r.inFlightTx = []inFlight{{blockNumber: 7}}
	r.onConfirmResult(context.Background(), confirmOutcome{idx: 0, status: L1StatusUnknown})
	if r.inFlightTx[0].firstNullAt.IsZero() {
		t.Fatal("expected firstNullAt to be stamped on first null observation")
	}
	if len(r.inFlightTx) != 1 {
		t.Fatal("expected entry retained pending resend threshold")
	}
}
