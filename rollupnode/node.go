package rollupnode

import (
	"context"
	"fmt"
	"sync"

	"github.com/godwokenrises/godwoken-core/config"
	"github.com/godwokenrises/godwoken-core/gwlog"
	"github.com/godwokenrises/godwoken-core/gwmetrics"
	"github.com/godwokenrises/godwoken-core/psc"
	"github.com/godwokenrises/godwoken-core/store"
)

// storeService adapts store.DB to the Service interface so the lifecycle
// manager opens it first and closes it last.
type storeService struct {
	dir string
	db  *store.DB
}

func (s *storeService) Name() string { return "store" }

func (s *storeService) Start() error {
	db, err := store.Open(s.dir)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *storeService) Stop() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pscService adapts psc.Reactor's context-driven Run loop to the
// lifecycle manager's Start/Stop shape: Start launches Run in a
// goroutine, Stop cancels its context and waits for it to return.
type pscService struct {
	reactor *psc.Reactor
	cancel  context.CancelFunc
	done    chan error
	log     *gwlog.Logger
}

func newPSCService(reactor *psc.Reactor, log *gwlog.Logger) *pscService {
	return &pscService{reactor: reactor, log: log.Component("psc")}
}

func (s *pscService) Name() string { return "psc" }

func (s *pscService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		err := s.reactor.Run(ctx)
		if err != nil && err != context.Canceled {
			s.log.Error("reactor exited", "error", err)
		}
		s.done <- err
	}()
	return nil
}

func (s *pscService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := <-s.done
	if err == context.Canceled {
		return nil
	}
	return err
}

// Node wires the store, the PSC reactor, logging, and metrics into a
// single process, started and stopped through a priority-ordered
// LifecycleManager: the store opens before anything reads or writes it,
// and the reactor stops before the store closes underneath it.
type Node struct {
	cfg     config.Config
	log     *gwlog.Logger
	metrics *gwmetrics.Registry
	lm      *LifecycleManager

	mu    sync.Mutex
	store *storeService
}

// New constructs a Node from cfg and a pre-built PSC reactor (the caller
// wires the reactor's Producer/Submitter/StatusPoller collaborators,
// since those depend on concrete L1/generator backends outside this
// package's scope).
func New(cfg config.Config, reactor *psc.Reactor) *Node {
	log := gwlog.New(gwlog.LevelFromString(cfg.LogLevel), cfg.LogFormat == "text")
	n := &Node{
		cfg:     cfg,
		log:     log,
		metrics: gwmetrics.DefaultRegistry,
		lm:      NewLifecycleManager(DefaultLifecycleConfig()),
		store:   &storeService{dir: cfg.StorePath()},
	}
	_ = n.lm.Register(n.store, 0)
	_ = n.lm.Register(newPSCService(reactor, log), 10)
	return n
}

// Start brings up every registered service in priority order. On any
// failure it reports all collected errors without partially leaving
// later services running.
func (n *Node) Start() error {
	if err := n.cfg.Validate(); err != nil {
		return fmt.Errorf("rollupnode: invalid config: %w", err)
	}
	if errs := n.lm.StartAll(); len(errs) > 0 {
		n.lm.StopAll()
		return fmt.Errorf("rollupnode: %d service(s) failed to start: %v", len(errs), errs)
	}
	n.log.Info("node started", "chain_id", n.cfg.ChainID, "datadir", n.cfg.DataDir)
	return nil
}

// Stop tears down every running service in reverse priority order.
func (n *Node) Stop() error {
	if errs := n.lm.StopAll(); len(errs) > 0 {
		return fmt.Errorf("rollupnode: %d service(s) failed to stop: %v", len(errs), errs)
	}
	return nil
}

// Store returns the underlying store handle once the node has started.
func (n *Node) Store() *store.DB {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.store.db
}

// HealthCheck reports per-service running state.
func (n *Node) HealthCheck() map[string]bool {
	return n.lm.HealthCheck()
}
