package rollupnode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/godwokenrises/godwoken-core/config"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/psc"
)

type stubProducer struct{ next uint64 }

func (p *stubProducer) Produce(ctx context.Context) (psc.ProducedBlock, error) {
	n := p.next
	p.next++
	return psc.ProducedBlock{Block: gwtypes.L2Block{Number: n}}, nil
}

type stubSubmitter struct{}

func (stubSubmitter) Submit(ctx context.Context, pb psc.ProducedBlock) (gwtypes.Hash, error) {
	return gwtypes.Hash{byte(pb.Block.Number + 1)}, nil
}

type stubPoller struct{}

func (stubPoller) PollStatus(ctx context.Context, txHash gwtypes.Hash) (psc.L1Status, error) {
	return psc.L1StatusCommitted, nil
}

func testNode(t *testing.T) *Node {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.LogLevel = "error"

	reactorCfg := psc.Config{
		ProduceInterval:     5 * time.Millisecond,
		LocalLimit:          5,
		SubmittedLimit:      3,
		SubmitErrorBackoff:  50 * time.Millisecond,
		ConfirmErrorBackoff: 50 * time.Millisecond,
		ResendThreshold:     time.Second,
	}
	reactor := psc.NewReactor(reactorCfg, &stubProducer{}, stubSubmitter{}, stubPoller{}, psc.Watermarks{})
	return New(cfg, reactor)
}

func TestNodeStartStop(t *testing.T) {
	n := testNode(t)
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.Store() == nil {
		t.Fatal("expected the store to be open after Start")
	}
	health := n.HealthCheck()
	if !health["store"] || !health["psc"] {
		t.Fatalf("expected both services running, got %v", health)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNodeStartRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ChainID = 0
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	reactor := psc.NewReactor(psc.DefaultConfig(), &stubProducer{}, stubSubmitter{}, stubPoller{}, psc.Watermarks{})
	n := New(cfg, reactor)
	if err := n.Start(); err == nil {
		t.Fatal("expected Start to reject an invalid config before touching services")
	}
}
