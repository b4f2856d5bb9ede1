// Package slashing builds the slash-inherent generator (spec.md §4.6) and
// the epoch-finalization reward distribution (spec.md §4.7). Grounded on
// consensus/poa.go's reward-accrual pass, generalised from "one flat reward
// per produced block" to "per-slot-band reward split with an alias-method
// remainder draw and a burn pot for slashed/rejected shares".
package slashing

import (
	"fmt"

	"github.com/albatross-core/chaincore/accounts"
	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
	"github.com/albatross-core/chaincore/slots"
	"github.com/albatross-core/chaincore/staking"
)

// ViewChanges describes the skipped view numbers within one block's
// production, spec.md §4.6's ViewChanges{block_number, first_view, last_view}.
type ViewChanges struct {
	BlockNumber uint32
	FirstView   uint32
	LastView    uint32
}

// GenerateSlashInherents builds the deterministic slash-inherent list for
// fork proofs F and an optional set of skipped view numbers (spec.md §4.6):
// fork proofs first, then view changes in ascending order.
func GenerateSlashInherents(registry *slots.Registry, predecessorSeed crypto.VRFSeed, forkProofs []block.ForkProof, vc *ViewChanges) ([]accounts.Inherent, error) {
	var out []accounts.Inherent
	for _, fp := range forkProofs {
		slot, _, err := slots.GetSlotAt(registry, predecessorSeed, fp.ViewNumber())
		if err != nil {
			return nil, fmt.Errorf("slashing: fork proof slot lookup: %w", err)
		}
		out = append(out, slashInherent(slot, fp.BlockNumber(), fp.ViewNumber(), "fork_proof"))
	}
	if vc != nil {
		for v := vc.FirstView; v < vc.LastView; v++ {
			slot, _, err := slots.GetSlotAt(registry, predecessorSeed, v)
			if err != nil {
				return nil, fmt.Errorf("slashing: view change slot lookup: %w", err)
			}
			out = append(out, slashInherent(slot, vc.BlockNumber, v, "view_change"))
		}
	}
	return out, nil
}

func slashInherent(slot int, blockNumber, viewNumber uint32, reason string) accounts.Inherent {
	return accounts.Inherent{
		Kind:   accounts.InherentSlash,
		Target: staking.Address,
		Value:  0,
		Payload: rawSlashPayload(slot, blockNumber, viewNumber, reason),
	}
}

func rawSlashPayload(slot int, blockNumber, viewNumber uint32, reason string) []byte {
	return []byte(fmt.Sprintf(`{"slot":%d,"block_number":%d,"view_number":%d,"reason":%q}`, slot, blockNumber, viewNumber, reason))
}

// BlockRewardFunc computes block_reward_for_epoch given the election block
// closing the epoch, the one closing the epoch before it, genesis supply
// and genesis timestamp (spec.md §4.7 step 1). Left as an injected function
// since its monetary-policy curve is a protocol parameter, not a structural
// concern of this package.
type BlockRewardFunc func(currentElection, previousElection *block.MacroBlock, genesisSupply uint64, genesisTimestamp int64) uint64

// FinalizeEpoch distributes the reward for the epoch just closed across its
// validator slot bands, following spec.md §4.7 steps 1-6. The genesis
// election (no batches precede it) is finalized by definition and returns
// an empty inherent list, signalled by a nil previousElection.
func FinalizeEpoch(
	closingRegistry *slots.Registry,
	slashed *crypto.BitSet,
	cumulativeFees uint64,
	currentElection, previousElection *block.MacroBlock,
	genesisSupply uint64,
	genesisTimestamp int64,
	rewardFunc BlockRewardFunc,
	tree accounts.Tree,
	seed crypto.VRFSeed,
) ([]accounts.Inherent, error) {
	if previousElection == nil {
		return nil, nil
	}

	total := rewardFunc(currentElection, previousElection, genesisSupply, genesisTimestamp) + cumulativeFees
	slotCount := closingRegistry.SlotCount()
	if slotCount == 0 {
		return nil, fmt.Errorf("slashing: empty closing registry")
	}
	slotReward := total / uint64(slotCount)
	remainder := total % uint64(slotCount)

	blockNumber := currentElection.Hdr.BlockNumber
	var inherents []accounts.Inherent
	var burnPot uint64
	var eligible []aliasCandidate

	for _, band := range closingRegistry.Slots() {
		numSlashed := slashed.CountRange(band.First, band.Last)
		numEligible := (band.Last - band.First) - numSlashed
		value := slotReward * uint64(numEligible)
		burnPot += slotReward * uint64(numSlashed)
		if numEligible == 0 {
			continue
		}
		addr := band.PublicKey.Hex()
		if !tree.AcceptsReward(addr, value, blockNumber) {
			burnPot += value
			continue
		}
		inherents = append(inherents, accounts.Inherent{Kind: accounts.InherentReward, Target: addr, Value: value})
		eligible = append(eligible, aliasCandidate{band: band, numEligible: numEligible, value: value})
	}

	if remainder > 0 && len(eligible) > 0 {
		winner := aliasSample(eligible, seed)
		addr := eligible[winner].band.PublicKey.Hex()
		for i := range inherents {
			if inherents[i].Kind == accounts.InherentReward && inherents[i].Target == addr {
				inherents[i].Value += remainder
				break
			}
		}
	}

	if burnPot > 0 {
		inherents = append(inherents, accounts.Inherent{Kind: accounts.InherentReward, Target: burnAddress, Value: burnPot})
	}

	inherents = append(inherents, accounts.Inherent{Kind: accounts.InherentFinalizeBatch, Target: staking.Address})

	return inherents, nil
}

const burnAddress = "0000000000000000000000000000000000000000000000000000000000000000"

type aliasCandidate = struct {
	band        block.SlotBand
	numEligible int
	value       uint64
}

// aliasSample picks an index into candidates, weighted by numEligible,
// using seed's reward-distribution RNG stream as the alias-method's
// coin flips (spec.md §4.7 step 4).
func aliasSample(candidates []aliasCandidate, seed crypto.VRFSeed) int {
	weights := make([]float64, len(candidates))
	total := 0
	for _, c := range candidates {
		total += c.numEligible
	}
	if total == 0 {
		return 0
	}
	for i, c := range candidates {
		weights[i] = float64(c.numEligible) / float64(total)
	}

	prob, alias := buildAliasTable(weights)

	entropy := seed.RNG(crypto.UseCaseRewardDistribution, 0)
	idx := int(entropy[0]) % len(candidates)
	coin := float64(entropy[1]) / 256.0
	if coin < prob[idx] {
		return idx
	}
	return alias[idx]
}

// buildAliasTable constructs Vose's alias method tables for a normalised
// weight distribution.
func buildAliasTable(weights []float64) ([]float64, []int) {
	n := len(weights)
	prob := make([]float64, n)
	alias := make([]int, n)
	scaled := make([]float64, n)
	var small, large []int
	for i, w := range weights {
		scaled[i] = w * float64(n)
		if scaled[i] < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}
	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]
		prob[l] = scaled[l]
		alias[l] = g
		scaled[g] = scaled[g] + scaled[l] - 1.0
		if scaled[g] < 1.0 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}
	for _, g := range large {
		prob[g] = 1.0
	}
	for _, l := range small {
		prob[l] = 1.0
	}
	return prob, alias
}
