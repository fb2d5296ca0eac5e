/*
rollover.go - What survives a tracking-year boundary

PURPOSE:
  When a tracking year ends, the unused balance either carries into the next
  year, partly carries and partly expires, or expires entirely. Nothing is
  written to the ledger for this: rollover is recomputed from the previous
  year each time a balance is read, so a late approval in the old year
  changes the new year's carried amount without any repair job.

MODES:
  RolloverNone:    everything expires
  RolloverEntire:  everything carries
  RolloverPartial: carry up to MaxCarryover, expire the rest

A negative remainder never carries: an overdrawn year starts the next one
from zero, not from a debt.
*/
package generic

type RolloverMode string

const (
	RolloverNone    RolloverMode = "none"
	RolloverEntire  RolloverMode = "entire"
	RolloverPartial RolloverMode = "partial"
)

type RolloverRule struct {
	Mode RolloverMode

	// Only read for RolloverPartial.
	MaxCarryover *Amount
}

type RolloverResult struct {
	CarriedOver Amount
	Expired     Amount
}

// Apply splits the remaining balance of an ending period into the part that
// carries over and the part that expires.
func (r RolloverRule) Apply(remaining Amount) RolloverResult {
	result := RolloverResult{CarriedOver: remaining.Zero(), Expired: remaining.Zero()}
	if !remaining.IsPositive() {
		return result
	}

	switch r.Mode {
	case RolloverEntire:
		result.CarriedOver = remaining
	case RolloverPartial:
		carry := remaining
		if r.MaxCarryover != nil {
			carry = carry.Min(r.MaxCarryover.ClampZero())
		}
		result.CarriedOver = carry
		result.Expired = remaining.Sub(carry)
	default:
		result.Expired = remaining
	}
	return result
}
