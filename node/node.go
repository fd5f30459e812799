// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/avalanchego/utils/math"

	"github.com/ava-labs/schedulervm/actions"
	"github.com/ava-labs/schedulervm/fees"
	"github.com/ava-labs/schedulervm/ledger"
	"github.com/ava-labs/schedulervm/scheduler"
	"github.com/ava-labs/schedulervm/state"
	"github.com/ava-labs/schedulervm/task"
	"github.com/ava-labs/schedulervm/weight"
)

// Node is a single-validator chain running the scheduler. It produces a
// block every BlockInterval and applies operations between blocks.
type Node struct {
	// lock serializes every access to the database.
	lock sync.Mutex

	config Config
	log    logging.Logger

	db        database.Database
	state     *state.State
	ledger    *ledger.State
	scheduler *scheduler.Scheduler
	settler   *fees.Settler

	// events emitted by the operation in progress
	events *scheduler.Recorder
	height uint64

	heightMetric prometheus.Gauge
}

func New(
	cfg Config,
	db database.Database,
	log logging.Logger,
	registerer prometheus.Registerer,
) (*Node, error) {
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	n := &Node{
		config: cfg,
		log:    log,
		db:     db,
		state:  state.New(db, actions.Codec),
		ledger: ledger.New(db),
		events: &scheduler.Recorder{},
		heightMetric: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "node",
			Name:      "height",
			Help:      "Height of the last accepted block",
		}),
	}
	if err := registerer.Register(n.heightMetric); err != nil {
		return nil, err
	}

	var err error
	n.scheduler, err = scheduler.New(&cfg.Scheduler, actions.Codec, n.ledger, n.events, log, registerer)
	if err != nil {
		return nil, err
	}
	n.settler = fees.NewSettler(actions.Codec, n.ledger)

	if err := n.initialize(); err != nil {
		return nil, fmt.Errorf("couldn't initialize state: %w", err)
	}
	n.heightMetric.Set(float64(n.height))
	return n, nil
}

// initialize loads the last accepted height, writing genesis if the
// database is empty.
func (n *Node) initialize() error {
	initialized, err := n.state.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		n.height, err = n.state.GetHeight()
		n.log.Info("loaded state",
			zap.Uint64("height", n.height),
		)
		return err
	}

	for _, allocation := range n.config.Allocations {
		if err := n.ledger.Mint(allocation.Address, allocation.Amount); err != nil {
			return err
		}
	}
	n.log.Info("initialized genesis",
		zap.Int("numAllocations", len(n.config.Allocations)),
	)
	return n.state.PutHeight(0)
}

// Run produces blocks until [ctx] is canceled.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.config.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := n.BuildBlock(); err != nil {
				return err
			}
		}
	}
}

// BuildBlock accepts the next block, dispatching its agenda.
func (n *Node) BuildBlock() (uint64, weight.Weight, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	height, err := math.Add64(n.height, 1)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	var used weight.Weight
	err = n.commit(func(db database.Database) error {
		var err error
		used, err = n.scheduler.Tick(db, height)
		if err != nil {
			return err
		}
		return state.New(db, actions.Codec).PutHeight(height)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("couldn't build block %d: %w", height, err)
	}

	n.height = height
	n.heightMetric.Set(float64(height))
	n.log.Debug("built block",
		zap.Uint64("height", height),
		zap.Uint64("weight", uint64(used)),
		zap.Duration("duration", time.Since(start)),
	)
	return height, used, nil
}

// commit runs [f] against a staged view of the database. The changes are
// written, and the events emitted meanwhile logged, only if [f] succeeds.
func (n *Node) commit(f func(database.Database) error) error {
	vdb := versiondb.New(n.db)
	if err := f(vdb); err != nil {
		vdb.Abort()
		n.events.Drain()
		return err
	}
	if err := vdb.Commit(); err != nil {
		n.events.Drain()
		return err
	}
	for _, e := range n.events.Drain() {
		n.logEvent(e)
	}
	return nil
}

func (n *Node) logEvent(e scheduler.Event) {
	fields := []zap.Field{
		zap.Stringer("kind", e.Kind),
		zap.Uint64("height", e.Height),
		zap.Stringer("principal", e.Principal),
	}
	switch e.Kind {
	case scheduler.Funded, scheduler.Redeemed:
		fields = append(fields, zap.Uint64("amount", e.Amount))
	case scheduler.Rescheduled:
		fields = append(fields,
			zap.Binary("id", e.ID),
			zap.Stringer("from", e.From),
			zap.Stringer("address", e.Address),
		)
	default:
		fields = append(fields,
			zap.Binary("id", e.ID),
			zap.Stringer("address", e.Address),
		)
	}
	if e.Err != nil {
		n.log.Info("task failed", append(fields, zap.Error(e.Err))...)
		return
	}
	n.log.Info("scheduler event", fields...)
}

func (n *Node) Height() uint64 {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.height
}

// Submit schedules a task in the block being built. User principals are
// charged the submission fee from their locked funds.
func (n *Node) Submit(req scheduler.SubmitRequest) (task.Address, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	var addr task.Address
	err := n.commit(func(db database.Database) error {
		var err error
		addr, err = n.scheduler.Submit(db, n.height, req)
		if err != nil || !req.Principal.IsChargeable() {
			return err
		}
		return n.settler.Charge(db, req.Principal, n.config.SubmitFee)
	})
	return addr, err
}

func (n *Node) Cancel(id []byte, caller task.Principal) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.commit(func(db database.Database) error {
		return n.scheduler.Cancel(db, n.height, id, caller)
	})
}

func (n *Node) Reschedule(id []byte, caller task.Principal, when task.When) (task.Address, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	var addr task.Address
	err := n.commit(func(db database.Database) error {
		var err error
		addr, err = n.scheduler.Reschedule(db, n.height, id, caller, when)
		return err
	})
	return addr, err
}

func (n *Node) Fund(caller task.Principal, amount uint64) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.commit(func(db database.Database) error {
		return n.scheduler.Fund(db, n.height, caller, amount)
	})
}

func (n *Node) Redeem(caller task.Principal) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.commit(func(db database.Database) error {
		return n.scheduler.Redeem(db, n.height, caller)
	})
}

// Mint credits [amount] to [addr].
func (n *Node) Mint(addr ids.ShortID, amount uint64) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.ledger.Mint(addr, amount)
}

func (n *Node) GetTask(id []byte) (*task.Task, task.Address, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.scheduler.GetTask(n.db, id)
}

func (n *Node) Agenda(block uint64) ([]*task.Task, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.scheduler.Agenda(n.db, block)
}

func (n *Node) GetFund(p task.Principal) (state.Fund, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.scheduler.GetFund(n.db, p)
}

func (n *Node) Balance(addr ids.ShortID) (uint64, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.ledger.Balance(addr)
}
