package policy

import "testing"

func TestValidateRejectsInconsistentConstants(t *testing.T) {
	valid := DefaultConstants()
	if err := valid.Validate(); err != nil {
		t.Errorf("default constants should validate cleanly: %v", err)
	}

	zeroBatch := valid
	zeroBatch.BatchLength = 0
	if err := zeroBatch.Validate(); err == nil {
		t.Error("zero batch length should be rejected")
	}

	nonMultiple := valid
	nonMultiple.EpochLength = valid.BatchLength + 1
	if err := nonMultiple.Validate(); err == nil {
		t.Error("epoch length not a multiple of batch length should be rejected")
	}

	badQuorum := valid
	badQuorum.TwoThirdSlots = valid.SlotCount / 2
	if err := badQuorum.Validate(); err == nil {
		t.Error("quorum at exactly half the slots should be rejected")
	}
}

func TestIsMacroAndElectionBlock(t *testing.T) {
	c := Constants{BatchLength: 4, EpochLength: 8}
	if !c.IsMacroBlock(4) || c.IsMacroBlock(5) {
		t.Error("IsMacroBlock should be true only on batch-length multiples")
	}
	if !c.IsElectionBlock(8) || c.IsElectionBlock(4) {
		t.Error("IsElectionBlock should be true only on epoch-length multiples")
	}
}

func TestEpochIndexCeilingSemantics(t *testing.T) {
	c := Constants{EpochLength: 4}
	cases := map[uint32]uint32{0: 0, 1: 0, 4: 0, 5: 1, 8: 1, 9: 2}
	for h, want := range cases {
		if got := c.EpochIndex(h); got != want {
			t.Errorf("EpochIndex(%d): got %d want %d", h, got, want)
		}
	}
}

func TestBatchIndexCeilingSemantics(t *testing.T) {
	c := Constants{BatchLength: 2}
	cases := map[uint32]uint32{0: 0, 1: 0, 2: 0, 3: 1, 4: 1, 5: 2}
	for h, want := range cases {
		if got := c.BatchIndex(h); got != want {
			t.Errorf("BatchIndex(%d): got %d want %d", h, got, want)
		}
	}
}
