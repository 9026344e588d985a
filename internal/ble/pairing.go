package ble

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chaz8081/ble-doorlock/internal/latch"
)

// Indicator is the pairing indicator output.
type Indicator interface {
	Set(on bool)
}

// ConfirmReplier answers numeric comparison requests.
type ConfirmReplier interface {
	ConfirmReply(addr Address, accept bool) error
}

// PairingOptions configures numeric comparison confirmation.
type PairingOptions struct {
	Timeout time.Duration // how long a press is awaited (default 5s)
}

// DefaultPairingOptions returns the lock's confirmation window.
func DefaultPairingOptions() PairingOptions {
	return PairingOptions{Timeout: 5 * time.Second}
}

// Confirmer turns numeric comparison requests into a button-confirmed
// accept or reject. It runs on the stack's callback context and blocks it
// for up to the confirmation window.
type Confirmer struct {
	replier   ConfirmReplier
	indicator Indicator
	confirm   *latch.Latch
	opts      PairingOptions

	busy     atomic.Bool
	accepted atomic.Int64
	rejected atomic.Int64
}

// NewConfirmer creates a Confirmer. confirm is the latch the button posts to.
func NewConfirmer(replier ConfirmReplier, indicator Indicator, confirm *latch.Latch, opts PairingOptions) *Confirmer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPairingOptions().Timeout
	}
	return &Confirmer{
		replier:   replier,
		indicator: indicator,
		confirm:   confirm,
		opts:      opts,
	}
}

// Confirm resolves one numeric comparison. The indicator is on while the
// press is awaited and off again on return. Exactly one reply is sent.
// A request arriving while another is outstanding is rejected at once.
func (c *Confirmer) Confirm(ev NumericComparisonEvent) bool {
	if !c.busy.CompareAndSwap(false, true) {
		slog.Warn("[PAIR] comparison already outstanding, rejecting", "peer", ev.Peer)
		c.reply(ev.Peer, false)
		return false
	}
	defer c.busy.Store(false)

	c.indicator.Set(true)
	defer c.indicator.Set(false)

	c.confirm.Drain()
	slog.Info("[PAIR] press the button to confirm",
		"peer", ev.Peer, "passkey", formatPasskey(ev.Passkey), "timeout", c.opts.Timeout)

	accept := c.confirm.WaitTimeout(c.opts.Timeout) == latch.Signaled
	c.reply(ev.Peer, accept)
	return accept
}

// Counts returns how many requests were accepted and rejected.
func (c *Confirmer) Counts() (accepted, rejected int64) {
	return c.accepted.Load(), c.rejected.Load()
}

// HandleGAP implements GAPHandler.
func (c *Confirmer) HandleGAP(ev GAPEvent) {
	switch e := ev.(type) {
	case NumericComparisonEvent:
		c.Confirm(e)
	case AuthCompleteEvent:
		if e.Success {
			slog.Info("[PAIR] authentication complete", "peer", e.Peer, "addr_type", e.AddrType)
		} else {
			slog.Warn("[PAIR] authentication failed", "peer", e.Peer, "addr_type", e.AddrType,
				"reason", e.Reason)
		}
	}
}

func (c *Confirmer) reply(peer Address, accept bool) {
	if accept {
		c.accepted.Add(1)
		slog.Info("[PAIR] confirmed", "peer", peer)
	} else {
		c.rejected.Add(1)
		slog.Info("[PAIR] rejected", "peer", peer)
	}
	if err := c.replier.ConfirmReply(peer, accept); err != nil {
		slog.Error("[PAIR] confirm reply failed", "peer", peer, "accept", accept, "error", err)
	}
}

func formatPasskey(p uint32) string {
	return fmt.Sprintf("%06d", p%1000000)
}
