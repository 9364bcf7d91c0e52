// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/echa/log"
	"github.com/gorilla/schema"
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"blockwatch.cc/alarmclock/pkg/alarm"
	"blockwatch.cc/alarmclock/pkg/factory"
	"blockwatch.cc/alarmclock/pkg/ledger"
)

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)
	dec.RegisterConverter(ledger.Money{}, func(s string) reflect.Value {
		m, err := ledger.ParseMoney(s)
		if err != nil {
			return reflect.Value{}
		}
		return reflect.ValueOf(m)
	})
	return dec
}

type FundForm struct {
	Account ledger.AccountID `schema:"account,required"`
	Amount  ledger.Money     `schema:"amount,required"`
}

type ScheduleForm struct {
	From            ledger.AccountID `schema:"from,required"`
	Unit            string           `schema:"unit"` // block (default) or timestamp
	To              ledger.AccountID `schema:"to,required"`
	Data            string           `schema:"data"` // hex
	CallBudget      uint64           `schema:"call_budget,required"`
	CallValue       ledger.Money     `schema:"call_value"`
	WindowSize      uint64           `schema:"window_size,required"`
	WindowStart     uint64           `schema:"window_start,required"`
	BudgetPrice     ledger.Money     `schema:"budget_price"`
	Donation        ledger.Money     `schema:"donation"`
	Payment         ledger.Money     `schema:"payment"`
	RequiredDeposit ledger.Money     `schema:"deposit"`
	Amount          ledger.Money     `schema:"amount"` // defaults to the endowment
}

type RequestForm struct {
	From    ledger.AccountID `schema:"from,required"`
	Request ledger.AccountID `schema:"request,required"`
	Amount  ledger.Money     `schema:"amount"`
	Budget  uint64           `schema:"budget"`
	Price   ledger.Money     `schema:"price"`
	To      ledger.AccountID `schema:"to"`   // proxy target
	Data    string           `schema:"data"` // hex proxy payload
	Action  string           `schema:"action"`
}

type MineForm struct {
	Blocks  uint64 `schema:"blocks"`
	Seconds uint64 `schema:"seconds"`
}

type ScheduleResult struct {
	Request   string `json:"request"`
	Endowment string `json:"endowment"`
	Height    uint64 `json:"height"`
}

type ExecuteResult struct {
	Aborted    bool   `json:"aborted"`
	Reason     string `json:"reason,omitempty"`
	Success    bool   `json:"success"`
	BudgetUsed uint64 `json:"budget_used"`
	Payment    string `json:"payment"`
	Donation   string `json:"donation"`
}

type SnapshotResult struct {
	Request  string              `json:"request"`
	Cid      string              `json:"cid"` // content id of the binary snapshot
	State    string              `json:"state"`
	Roles    alarm.Roles         `json:"roles"`
	Flags    alarm.SnapshotFlags `json:"flags"`
	Values   map[string]string   `json:"values"`
	Modifier uint8               `json:"payment_modifier"`
}

type RequestEntry struct {
	Request     string `json:"request"`
	Unit        string `json:"unit"`
	WindowStart uint64 `json:"window_start"`
	WindowEnd   uint64 `json:"window_end"`
}

type StatusResult struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	Tracked   int    `json:"tracked"`
}

func (n *Node) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fund", post(n.fundHandler))
	mux.HandleFunc("/mine", post(n.mineHandler))
	mux.HandleFunc("/schedule", post(n.scheduleHandler))
	mux.HandleFunc("/claim", post(n.claimHandler))
	mux.HandleFunc("/execute", post(n.executeHandler))
	mux.HandleFunc("/cancel", post(n.cancelHandler))
	mux.HandleFunc("/proxy", post(n.proxyHandler))
	mux.HandleFunc("/retry", post(n.retryHandler))
	mux.HandleFunc("/snapshot", get(n.snapshotHandler))
	mux.HandleFunc("/requests", get(n.requestsHandler))
	mux.HandleFunc("/balance", get(n.balanceHandler))
	mux.HandleFunc("/status", get(n.statusHandler))
	mux.Handle("/metrics", n.metrics.Handler())
	return mux
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "invalid method", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid method", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func decodeForm(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := r.ParseForm(); err != nil {
		log.Error(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := decoder.Decode(dst, r.Form); err != nil {
		log.Error(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Error(err)
		http.Error(w, fmt.Sprintf("marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Date", time.Now().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

// Rejected transactions are client errors, everything else is ours.
func txError(w http.ResponseWriter, err error) {
	log.Debugf("tx rejected: %v", err)
	http.Error(w, err.Error(), http.StatusUnprocessableEntity)
}

func (n *Node) lookup(w http.ResponseWriter, addr ledger.AccountID) (*alarm.Request, bool) {
	req, ok := factory.Lookup(n.ledger, addr)
	if !ok {
		http.Error(w, fmt.Sprintf("no request at %s", addr), http.StatusNotFound)
	}
	return req, ok
}

func (n *Node) fundHandler(w http.ResponseWriter, r *http.Request) {
	var form FundForm
	if !decodeForm(w, r, &form) {
		return
	}
	if err := n.ledger.Credit(form.Account, form.Amount); err != nil {
		log.Error(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bal := n.ledger.BalanceOf(form.Account)
	log.Infof("Funded %s with %s", form.Account, form.Amount.Dec())
	writeJSON(w, map[string]string{"account": string(form.Account), "balance": bal.Dec()})
}

func (n *Node) mineHandler(w http.ResponseWriter, r *http.Request) {
	var form MineForm
	if !decodeForm(w, r, &form) {
		return
	}
	if form.Blocks == 0 && form.Seconds == 0 {
		form.Blocks, form.Seconds = 1, 12
	}
	n.mine(form.Blocks, form.Seconds)
	n.statusHandler(w, r)
}

func (n *Node) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	var form ScheduleForm
	if !decodeForm(w, r, &form) {
		return
	}
	unit := ledger.UnitBlock
	if form.Unit == "timestamp" {
		unit = ledger.UnitTimestamp
	}
	sched := n.schedulers[unit]
	data, err := hex.DecodeString(form.Data)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid call data: %v", err), http.StatusBadRequest)
		return
	}
	sp := factory.SchedulingParams{
		CallBudget:      form.CallBudget,
		CallValue:       form.CallValue,
		WindowSize:      form.WindowSize,
		WindowStart:     form.WindowStart,
		BudgetPrice:     form.BudgetPrice,
		Donation:        form.Donation,
		Payment:         form.Payment,
		RequiredDeposit: form.RequiredDeposit,
	}
	endowment, err := sched.Params(n.ledger.Now(unit), sp).Endowment()
	if err != nil {
		txError(w, err)
		return
	}
	amount := form.Amount
	if amount.IsZero() {
		amount = endowment
	}

	var addr ledger.AccountID
	rcpt, err := n.ledger.Submit(ledger.Tx{From: form.From, To: sched.Address(), Amount: amount}, func(ctx *ledger.CallContext) error {
		var err error
		addr, err = sched.Schedule(ctx, form.To, data, sp)
		return err
	})
	if err != nil {
		txError(w, err)
		return
	}
	log.Infof("Scheduled %s for %s at %s %d", addr, form.From, unit, form.WindowStart)
	writeJSON(w, ScheduleResult{
		Request:   string(addr),
		Endowment: amount.Dec(),
		Height:    rcpt.Height,
	})
}

func (n *Node) claimHandler(w http.ResponseWriter, r *http.Request) {
	var form RequestForm
	if !decodeForm(w, r, &form) {
		return
	}
	req, ok := n.lookup(w, form.Request)
	if !ok {
		return
	}
	_, err := n.ledger.Submit(ledger.Tx{From: form.From, To: form.Request, Amount: form.Amount}, req.Claim)
	if err != nil {
		txError(w, err)
		return
	}
	n.writeSnapshot(w, req)
}

func (n *Node) executeHandler(w http.ResponseWriter, r *http.Request) {
	var form RequestForm
	if !decodeForm(w, r, &form) {
		return
	}
	req, ok := n.lookup(w, form.Request)
	if !ok {
		return
	}
	if form.Budget == 0 {
		form.Budget = n.ledger.Config().BudgetLimit
	}
	var exec alarm.Execution
	_, err := n.ledger.Submit(ledger.Tx{
		From:        form.From,
		To:          form.Request,
		Budget:      form.Budget,
		BudgetPrice: form.Price,
	}, func(ctx *ledger.CallContext) error {
		exec = req.Execute(ctx)
		return nil
	})
	if err != nil {
		txError(w, err)
		return
	}
	res := ExecuteResult{
		Aborted:    exec.Aborted,
		Success:    exec.Success,
		BudgetUsed: exec.BudgetUsed,
		Payment:    exec.Payment.Dec(),
		Donation:   exec.Donation.Dec(),
	}
	if exec.Reason != nil {
		res.Reason = exec.Reason.String()
	}
	writeJSON(w, res)
}

func (n *Node) cancelHandler(w http.ResponseWriter, r *http.Request) {
	var form RequestForm
	if !decodeForm(w, r, &form) {
		return
	}
	req, ok := n.lookup(w, form.Request)
	if !ok {
		return
	}
	if _, err := n.ledger.Submit(ledger.Tx{From: form.From, To: form.Request}, req.Cancel); err != nil {
		txError(w, err)
		return
	}
	n.writeSnapshot(w, req)
}

func (n *Node) proxyHandler(w http.ResponseWriter, r *http.Request) {
	var form RequestForm
	if !decodeForm(w, r, &form) {
		return
	}
	req, ok := n.lookup(w, form.Request)
	if !ok {
		return
	}
	data, err := hex.DecodeString(form.Data)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid call data: %v", err), http.StatusBadRequest)
		return
	}
	_, err = n.ledger.Submit(ledger.Tx{
		From:   form.From,
		To:     form.Request,
		Amount: form.Amount,
		Budget: form.Budget,
	}, func(ctx *ledger.CallContext) error {
		return req.Proxy(ctx, form.To, data)
	})
	if err != nil {
		txError(w, err)
		return
	}
	n.writeSnapshot(w, req)
}

// Retries a payout that could not be delivered during execution
func (n *Node) retryHandler(w http.ResponseWriter, r *http.Request) {
	var form RequestForm
	if !decodeForm(w, r, &form) {
		return
	}
	req, ok := n.lookup(w, form.Request)
	if !ok {
		return
	}
	var fn func(*ledger.CallContext) error
	switch form.Action {
	case "donation":
		fn = req.SendDonation
	case "payment":
		fn = req.SendPayment
	case "deposit":
		fn = req.RefundClaimDeposit
	case "owner":
		fn = req.SendOwnerFunds
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", form.Action), http.StatusBadRequest)
		return
	}
	if _, err := n.ledger.Submit(ledger.Tx{From: form.From, To: form.Request}, fn); err != nil {
		txError(w, err)
		return
	}
	n.writeSnapshot(w, req)
}

func (n *Node) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	addr := ledger.AccountID(r.URL.Query().Get("request"))
	req, ok := n.lookup(w, addr)
	if !ok {
		return
	}
	if r.URL.Query().Get("format") != "borsh" {
		n.writeSnapshot(w, req)
		return
	}
	var snap alarm.Snapshot
	n.ledger.View(func() { snap = req.Snapshot() })
	buf, err := snap.MarshalBinary()
	if err != nil {
		log.Error(err)
		http.Error(w, fmt.Sprintf("marshal snapshot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Date", time.Now().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (n *Node) writeSnapshot(w http.ResponseWriter, req *alarm.Request) {
	var snap alarm.Snapshot
	n.ledger.View(func() { snap = req.Snapshot() })
	buf, err := snap.MarshalBinary()
	if err != nil {
		log.Error(err)
		http.Error(w, fmt.Sprintf("marshal snapshot: %v", err), http.StatusInternalServerError)
		return
	}
	c, err := cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}.Sum(buf)
	if err != nil {
		log.Error(err)
		http.Error(w, fmt.Sprintf("encode cid: %v", err), http.StatusInternalServerError)
		return
	}
	v := snap.Values
	writeJSON(w, SnapshotResult{
		Request: string(req.Address()),
		Cid:     c.String(),
		State:   snap.State().String(),
		Roles: alarm.Roles{
			CreatedBy:          snap.Addresses.CreatedBy,
			Owner:              snap.Addresses.Owner,
			DonationBenefactor: snap.Addresses.DonationBenefactor,
			ToAddress:          snap.Addresses.ToAddress,
		},
		Flags: snap.Flags,
		Values: map[string]string{
			"claimed_by":           string(snap.Addresses.ClaimedBy),
			"payment_benefactor":   string(snap.Addresses.PaymentBenefactor),
			"claim_deposit":        v.ClaimDeposit.Dec(),
			"donation":             v.Donation.Dec(),
			"donation_owed":        v.DonationOwed.Dec(),
			"payment":              v.Payment.Dec(),
			"payment_owed":         v.PaymentOwed.Dec(),
			"claim_window_size":    v.ClaimWindowSize.Dec(),
			"freeze_period":        v.FreezePeriod.Dec(),
			"reserved_window_size": v.ReservedWindowSize.Dec(),
			"temporal_unit":        v.TemporalUnit.Dec(),
			"window_size":          v.WindowSize.Dec(),
			"window_start":         v.WindowStart.Dec(),
			"call_budget":          v.CallBudget.Dec(),
			"call_value":           v.CallValue.Dec(),
			"budget_price":         v.BudgetPrice.Dec(),
			"required_deposit":     v.RequiredDeposit.Dec(),
		},
		Modifier: snap.Modifiers.PaymentModifier,
	})
}

func (n *Node) requestsHandler(w http.ResponseWriter, r *http.Request) {
	active := n.tracker.Active()
	list := make([]RequestEntry, 0, len(active))
	for _, e := range active {
		list = append(list, RequestEntry{
			Request:     string(e.Request),
			Unit:        e.Unit.String(),
			WindowStart: e.WindowStart,
			WindowEnd:   e.WindowEnd,
		})
	}
	writeJSON(w, list)
}

func (n *Node) balanceHandler(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, "missing account", http.StatusBadRequest)
		return
	}
	bal := n.ledger.BalanceOf(ledger.AccountID(account))
	writeJSON(w, map[string]string{"account": account, "balance": bal.Dec()})
}

func (n *Node) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusResult{
		Height:    n.ledger.Height(),
		Timestamp: n.ledger.Timestamp(),
		Tracked:   n.tracker.Len(),
	})
}
