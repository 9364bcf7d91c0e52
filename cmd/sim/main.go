// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/echa/log"
	cid "github.com/ipfs/go-cid"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"blockwatch.cc/alarmclock/pkg/alarm"
)

var (
	nodeEndpoint string
	accountId    string
	claimerId    string
	targetId     string
	callData     string
	lead         uint64
	windowSize   uint64
	callBudget   uint64
	paymentStr   string
	donationStr  string
	depositStr   string
	flags        = flag.NewFlagSet("sim", flag.ContinueOnError)
)

func init() {
	flags.Usage = func() {}
	flags.StringVar(&nodeEndpoint, "node", envOr("ALARM_NODE_URL", "http://localhost:8000"), "alarm node endpoint")
	flags.StringVar(&accountId, "account", envOr("ALARM_ACCOUNT_ID", "alice.near"), "scheduling account")
	flags.StringVar(&claimerId, "claimer", "carol.near", "claiming executor account")
	flags.StringVar(&targetId, "to", "bob.near", "call target")
	flags.StringVar(&callData, "data", "", "hex encoded call data")
	flags.Uint64Var(&lead, "lead", 300, "blocks until the execution window opens")
	flags.Uint64Var(&windowSize, "window", 50, "execution window size in blocks")
	flags.Uint64Var(&callBudget, "budget", 100_000, "call budget")
	flags.StringVar(&paymentStr, "payment", "1000000", "executor payment")
	flags.StringVar(&donationStr, "donation", "10000", "donation to the fee recipient")
	flags.StringVar(&depositStr, "deposit", "500000", "required claim deposit")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

type Status struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	Tracked   int    `json:"tracked"`
}

type ScheduleResult struct {
	Request   string `json:"request"`
	Endowment string `json:"endowment"`
	Height    uint64 `json:"height"`
}

type ExecuteResult struct {
	Aborted    bool   `json:"aborted"`
	Reason     string `json:"reason"`
	Success    bool   `json:"success"`
	BudgetUsed uint64 `json:"budget_used"`
	Payment    string `json:"payment"`
	Donation   string `json:"donation"`
}

func run() error {
	err := flags.Parse(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			fmt.Printf("Usage: %s [flags]\n", os.Args[0])
			fmt.Println("\nFlags")
			flags.PrintDefaults()
			return nil
		}
		return err
	}
	if accountId == "" {
		return fmt.Errorf("Empty account id")
	}
	if _, err := hex.DecodeString(callData); err != nil {
		return fmt.Errorf("invalid call data: %v", err)
	}

	// fund both sides
	for _, acc := range []string{accountId, claimerId} {
		if err := post("/fund", url.Values{"account": {acc}, "amount": {"1000000000000"}}, nil); err != nil {
			return err
		}
	}

	var stat Status
	if err := get("/status", &stat); err != nil {
		return err
	}
	log.Infof("Node is on block %d", stat.Height)

	start := stat.Height + lead
	var sched ScheduleResult
	err = post("/schedule", url.Values{
		"from":         {accountId},
		"to":           {targetId},
		"data":         {callData},
		"call_budget":  {strconv.FormatUint(callBudget, 10)},
		"window_size":  {strconv.FormatUint(windowSize, 10)},
		"window_start": {strconv.FormatUint(start, 10)},
		"budget_price": {"1"},
		"payment":      {paymentStr},
		"donation":     {donationStr},
		"deposit":      {depositStr},
	}, &sched)
	if err != nil {
		return err
	}

	// request addresses are content ids
	c, err := cid.Decode(sched.Request)
	if err != nil {
		return fmt.Errorf("invalid request address %q: %v", sched.Request, err)
	}
	if pref := c.Prefix(); pref.MhType != mh.SHA2_256 || pref.Codec != uint64(mc.Raw) {
		return fmt.Errorf("unexpected request address prefix %v", pref)
	}
	log.Infof("Scheduled request %s window [%d,%d) endowment %s", c, start, start+windowSize, sched.Endowment)

	snap, err := snapshot(sched.Request)
	if err != nil {
		return err
	}
	schedule := snap.Schedule()

	// claim half way through the claim window
	if schedule.ClaimWindowSize > 0 {
		at := schedule.FirstClaimAt() + schedule.ClaimWindowSize/2
		if err := mineTo(at); err != nil {
			return err
		}
		err = post("/claim", url.Values{
			"from":    {claimerId},
			"request": {sched.Request},
			"amount":  {depositStr},
		}, nil)
		if err != nil {
			return err
		}
		if snap, err = snapshot(sched.Request); err != nil {
			return err
		}
		log.Infof("Claimed by %s at block %d with modifier %d%%", snap.Addresses.ClaimedBy, at, snap.Modifiers.PaymentModifier)
	}

	if err := mineTo(schedule.WindowStart); err != nil {
		return err
	}
	var exec ExecuteResult
	err = post("/execute", url.Values{
		"from":    {claimerId},
		"request": {sched.Request},
		"budget":  {strconv.FormatUint(callBudget+alarm.EXECUTION_OVERHEAD, 10)},
		"price":   {"1"},
	}, &exec)
	if err != nil {
		return err
	}
	if exec.Aborted {
		return fmt.Errorf("execution aborted: %s", exec.Reason)
	}
	log.Infof("Executed success=%t budget=%d payment=%s donation=%s", exec.Success, exec.BudgetUsed, exec.Payment, exec.Donation)

	if snap, err = snapshot(sched.Request); err != nil {
		return err
	}
	log.Infof("Request %s is %s, payment owed %s, donation owed %s",
		sched.Request, snap.State(), snap.Values.PaymentOwed.Dec(), snap.Values.DonationOwed.Dec())
	return nil
}

func mineTo(height uint64) error {
	var stat Status
	if err := get("/status", &stat); err != nil {
		return err
	}
	if stat.Height >= height {
		return nil
	}
	n := height - stat.Height
	log.Infof("Mining %d blocks to %d", n, height)
	return post("/mine", url.Values{"blocks": {strconv.FormatUint(n, 10)}, "seconds": {strconv.FormatUint(n*12, 10)}}, nil)
}

// Fetches the binary snapshot of a request
func snapshot(addr string) (alarm.Snapshot, error) {
	var snap alarm.Snapshot
	resp, err := http.Get(nodeEndpoint + "/snapshot?format=borsh&request=" + url.QueryEscape(addr))
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	buf, err := readResponse(resp)
	if err != nil {
		return snap, err
	}
	err = snap.UnmarshalBinary(buf)
	return snap, err
}

func post(path string, form url.Values, dst interface{}) error {
	resp, err := http.PostForm(nodeEndpoint+path, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dst)
}

func get(path string, dst interface{}) error {
	resp, err := http.Get(nodeEndpoint + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dst)
}

func readResponse(resp *http.Response) ([]byte, error) {
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %s", resp.Request.URL.Path, resp.Status, string(buf))
	}
	return buf, nil
}

func decodeResponse(resp *http.Response, dst interface{}) error {
	buf, err := readResponse(resp)
	if err != nil || dst == nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}
