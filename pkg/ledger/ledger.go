// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package ledger

import (
	"errors"
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/echa/log"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBudgetLimit       = errors.New("budget exceeds transaction limit")
	ErrOutOfBudget       = errors.New("out of budget")
	ErrCallDepth         = errors.New("call depth exceeded")
	ErrCodeExists        = errors.New("contract already deployed")
	ErrNoContract        = errors.New("no contract at address")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

const (
	// budget handed to a contract receiving a plain transfer
	TransferStipend = 2300

	MaxCallDepth = 64
)

// Log is an event emitted during a transaction.
type Log struct {
	Topic string
	Event interface{}
}

// Receipt of a committed transaction
type Receipt struct {
	Height     uint64
	Timestamp  uint64
	BudgetUsed uint64
	Logs       []Log
}

// Find returns the first event logged under topic.
func (r *Receipt) Find(topic string) (interface{}, bool) {
	for _, l := range r.Logs {
		if l.Topic == topic {
			return l.Event, true
		}
	}
	return nil, false
}

// Ledger is a single-writer, append-only chain state. All transactions are
// serialized by one lock; the order in which Submit acquires it is the
// ledger's total transaction order.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	height    uint64
	timestamp uint64
	balances  map[AccountID]Money
	contracts map[AccountID]Contract

	// per-transaction undo state
	journal []func()
	logs    []Log

	bus evbus.Bus
}

func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:       cfg,
		height:    cfg.GenesisHeight,
		timestamp: cfg.GenesisTime,
		balances:  make(map[AccountID]Money),
		contracts: make(map[AccountID]Contract),
		bus:       evbus.New(),
	}
}

// Bus carries committed events, one topic per event name. Handlers run
// while the ledger is locked and must not submit transactions.
func (l *Ledger) Bus() evbus.Bus {
	return l.bus
}

func (l *Ledger) Config() Config {
	return l.cfg
}

// Advances the clock by a number of blocks and seconds
func (l *Ledger) Mine(blocks, seconds uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height += blocks
	l.timestamp += seconds
}

func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

func (l *Ledger) Timestamp() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timestamp
}

// Now returns the current time in the requested unit.
func (l *Ledger) Now(u Unit) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u == UnitTimestamp {
		return l.timestamp
	}
	return l.height
}

func (l *Ledger) BalanceOf(a AccountID) Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[a]
}

// Credits new funds to an account (genesis allocation, faucet)
func (l *Ledger) Credit(a AccountID, amount Money) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[a]
	if _, overflow := bal.AddOverflow(&bal, &amount); overflow {
		return fmt.Errorf("%w: crediting %s to %s", ErrBalanceOverflow, amount.Dec(), a)
	}
	l.balances[a] = bal
	return nil
}

// Deploys code outside of a transaction (genesis contracts, test fixtures)
func (l *Ledger) Deploy(addr AccountID, code Contract) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.deploy(addr, code); err != nil {
		return err
	}
	l.journal = l.journal[:0]
	return nil
}

func (l *Ledger) ContractAt(addr AccountID) (Contract, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.contracts[addr]
	return c, ok
}

// View runs fn with the ledger locked and no transaction open. Used to read
// contract state consistently with concurrent submitters.
func (l *Ledger) View(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Submit runs fn as one atomic transaction. The attached amount moves from
// sender to receiver before fn runs. When fn returns an error every balance
// change, deployment and event of the transaction is rolled back.
func (l *Ledger) Submit(tx Tx, fn func(ctx *CallContext) error) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Budget > l.cfg.BudgetLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBudgetLimit, tx.Budget, l.cfg.BudgetLimit)
	}
	l.journal = l.journal[:0]
	l.logs = l.logs[:0]

	ctx := &CallContext{
		Caller:      tx.From,
		Origin:      tx.From,
		Self:        tx.To,
		Amount:      tx.Amount,
		BudgetPrice: tx.BudgetPrice,
		Height:      l.height,
		Timestamp:   l.timestamp,
		ledger:      l,
		meter:       &meter{limit: tx.Budget},
	}
	if err := l.move(tx.From, tx.To, tx.Amount); err != nil {
		return nil, err
	}
	if err := guard(func() error { return fn(ctx) }); err != nil {
		l.revert(0, 0)
		log.Debugf("ledger: tx %s -> %s reverted: %v", tx.From, tx.To, err)
		return nil, err
	}

	rcpt := &Receipt{
		Height:     l.height,
		Timestamp:  l.timestamp,
		BudgetUsed: ctx.meter.used,
		Logs:       make([]Log, len(l.logs)),
	}
	copy(rcpt.Logs, l.logs)
	l.journal = l.journal[:0]
	l.logs = l.logs[:0]

	for _, v := range rcpt.Logs {
		l.bus.Publish(v.Topic, v.Event)
	}
	return rcpt, nil
}

// Call submits a transaction that invokes the contract at tx.To.
func (l *Ledger) Call(tx Tx, payload []byte) (*Receipt, error) {
	return l.Submit(tx, func(ctx *CallContext) error {
		code, ok := ctx.ledger.contracts[tx.To]
		if !ok {
			if len(payload) > 0 {
				return fmt.Errorf("%w %s", ErrNoContract, tx.To)
			}
			return nil
		}
		return code.Receive(ctx, payload)
	})
}

func (l *Ledger) setBalance(a AccountID, v Money) {
	prev, existed := l.balances[a]
	l.journal = append(l.journal, func() {
		if existed {
			l.balances[a] = prev
		} else {
			delete(l.balances, a)
		}
	})
	l.balances[a] = v
}

func (l *Ledger) move(from, to AccountID, amount Money) error {
	if amount.IsZero() || from == to {
		return nil
	}
	src := l.balances[from]
	if src.Lt(&amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, src.Dec(), amount.Dec())
	}
	dst := l.balances[to]
	if _, overflow := dst.AddOverflow(&dst, &amount); overflow {
		return fmt.Errorf("%w for %s", ErrBalanceOverflow, to)
	}
	src.Sub(&src, &amount)
	l.setBalance(from, src)
	l.setBalance(to, dst)
	return nil
}

func (l *Ledger) deploy(addr AccountID, code Contract) error {
	if addr.IsZero() {
		return fmt.Errorf("deploy: empty address")
	}
	if _, ok := l.contracts[addr]; ok {
		return fmt.Errorf("%w at %s", ErrCodeExists, addr)
	}
	l.contracts[addr] = code
	l.journal = append(l.journal, func() {
		delete(l.contracts, addr)
	})
	return nil
}

func (l *Ledger) emit(topic string, ev interface{}) {
	l.logs = append(l.logs, Log{Topic: topic, Event: ev})
}

type checkpoint struct {
	journal int
	logs    int
}

func (l *Ledger) checkpoint() checkpoint {
	return checkpoint{len(l.journal), len(l.logs)}
}

func (l *Ledger) revert(journal, logs int) {
	for i := len(l.journal) - 1; i >= journal; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:journal]
	l.logs = l.logs[:logs]
}

// guard turns a panic in contract code into an error, the same way a
// failing assertion reverts a call.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	return fn()
}
