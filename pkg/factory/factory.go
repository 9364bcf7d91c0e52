// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package factory

import (
	"errors"
	"fmt"

	"github.com/echa/log"
	cid "github.com/ipfs/go-cid"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/near/borsh-go"

	"blockwatch.cc/alarmclock/pkg/alarm"
	"blockwatch.cc/alarmclock/pkg/ledger"
)

const TopicNewRequest = "NewRequest"

var (
	ErrUnknownMethod = errors.New("factory does not accept call data")
	ErrFundingFailed = errors.New("funding new request failed")
)

// Emitted for every request the factory creates
type NewRequestEvent struct {
	Request     ledger.AccountID
	Factory     ledger.AccountID
	CreatedBy   ledger.AccountID
	Unit        ledger.Unit
	WindowStart uint64
	WindowEnd   uint64
}

// Content-addressed instance ids use CIDv1 over the borsh encoded
// creation record.
var addressPrefix = cid.Prefix{
	Version:  1,
	Codec:    uint64(mc.Raw),
	MhType:   mh.SHA2_256,
	MhLength: -1, // default length
}

type creationRecord struct {
	Factory  string
	Nonce    uint64
	Roles    alarm.Roles
	Params   alarm.Params
	CallData []byte
}

// Factory validates creation parameters and deploys requests.
type Factory struct {
	address ledger.AccountID
	nonce   uint64
}

func New(addr ledger.AccountID) *Factory {
	return &Factory{address: addr}
}

func (f *Factory) Address() ledger.AccountID {
	return f.address
}

func (f *Factory) Receive(ctx *ledger.CallContext, payload []byte) error {
	if len(payload) > 0 {
		return ErrUnknownMethod
	}
	return nil
}

// Checks creation parameters against the current ledger state and the
// attached value, reporting every violated rule
// Called by: anyone
func (f *Factory) Validate(ctx *ledger.CallContext, roles alarm.Roles, p alarm.Params) error {
	return alarm.ValidateParams(roles, p, ctx.Now(p.TemporalUnit), ctx.BudgetLimit(), ctx.Amount)
}

// Deploys a new request funded with the full attached value
// Called by: schedulers, anyone
func (f *Factory) Create(ctx *ledger.CallContext, roles alarm.Roles, p alarm.Params, callData []byte) (ledger.AccountID, error) {
	if err := f.Validate(ctx, roles, p); err != nil {
		for _, e := range unwrapJoined(err) {
			log.Warnf("factory: validation error from %s: %v", ctx.Caller, e)
		}
		return "", err
	}

	addr, err := f.nextAddress(ctx, roles, p, callData)
	if err != nil {
		return "", err
	}
	req, err := alarm.NewRequest(ctx, addr, roles, p, callData, ctx.Amount)
	if err != nil {
		return "", err
	}
	if err := ctx.Deploy(addr, req); err != nil {
		return "", err
	}
	if !ctx.Transfer(addr, ctx.Amount) {
		return "", fmt.Errorf("%w: %s to %s", ErrFundingFailed, ctx.Amount.Dec(), addr)
	}

	sched := req.Schedule()
	ctx.Emit(TopicNewRequest, NewRequestEvent{
		Request:     addr,
		Factory:     f.address,
		CreatedBy:   roles.CreatedBy,
		Unit:        sched.Unit,
		WindowStart: sched.WindowStart,
		WindowEnd:   sched.WindowEnd(),
	})
	log.Infof("factory: created request %s for %s, %s window [%d,%d) endowment %s",
		addr, roles.CreatedBy, sched.Unit, sched.WindowStart, sched.WindowEnd(), ctx.Amount.Dec())
	return addr, nil
}

// Looks up a request created on this ledger
func Lookup(l *ledger.Ledger, addr ledger.AccountID) (*alarm.Request, bool) {
	code, ok := l.ContractAt(addr)
	if !ok {
		return nil, false
	}
	req, ok := code.(*alarm.Request)
	return req, ok
}

// nextAddress derives the address of the next request and consumes the
// nonce. The nonce is restored when the creating call reverts.
func (f *Factory) nextAddress(ctx *ledger.CallContext, roles alarm.Roles, p alarm.Params, callData []byte) (ledger.AccountID, error) {
	buf, err := borsh.Serialize(creationRecord{
		Factory:  string(f.address),
		Nonce:    f.nonce,
		Roles:    roles,
		Params:   p,
		CallData: callData,
	})
	if err != nil {
		return "", fmt.Errorf("encoding creation record: %w", err)
	}
	c, err := addressPrefix.Sum(buf)
	if err != nil {
		return "", fmt.Errorf("encoding address: %w", err)
	}
	nonce := f.nonce
	ctx.OnRevert(func() { f.nonce = nonce })
	f.nonce++
	return ledger.AccountID(c.String()), nil
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
