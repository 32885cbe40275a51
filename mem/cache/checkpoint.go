package cache

import (
	"fmt"
	"io"

	"github.com/sarchlab/cohsim/mem/checkpoint"
	"github.com/sarchlab/cohsim/mem/coherence"
)

const checkpointKind = "cache"

func (a *Array) checkpointHeader() checkpoint.Header {
	return checkpoint.Header{
		Kind:          checkpointKind,
		Sets:          a.NumSets(),
		Associativity: a.Associativity(),
	}
}

// Save writes the tag and state of every block.
func (a *Array) Save(w io.Writer) error {
	return checkpoint.WriteAll(w, a.checkpointHeader(),
		func(set, way int) checkpoint.Record {
			b := a.sets[set].Blocks[way]

			return checkpoint.Record{
				Tag:   b.Tag,
				State: b.State.String(),
				Owner: coherence.NoNode,
			}
		})
}

// Load replaces the content of the array with a saved checkpoint. The array
// is left unchanged if the checkpoint is rejected. Replacement state restarts
// from way order.
func (a *Array) Load(r io.Reader) error {
	blocks := make([][]Block, a.NumSets())
	for i := range blocks {
		blocks[i] = make([]Block, a.Associativity())
	}

	err := checkpoint.ReadAll(r, a.checkpointHeader(),
		func(set, way int, rec checkpoint.Record) error {
			state, err := coherence.ParseState(rec.State)
			if err != nil {
				return fmt.Errorf("%w: set %d way %d: %v",
					checkpoint.ErrMalformed, set, way, err)
			}

			if state.IsValid() {
				err = a.mustBelongToSet(blocks[set][:way], set, rec.Tag)
				if err != nil {
					return err
				}
			}

			blocks[set][way] = Block{Tag: rec.Tag, State: state}

			return nil
		})
	if err != nil {
		return err
	}

	for s := range a.sets {
		for w := range blocks[s] {
			blocks[s][w].gen = a.sets[s].Blocks[w].gen + 1
		}

		a.sets[s].Blocks = blocks[s]
		a.sets[s].Replacement.Reset()
	}

	return nil
}

func (a *Array) mustBelongToSet(earlier []Block, set int, tag uint64) error {
	if a.layout.Tag(tag) != tag || a.layout.SetIndex(tag) != set {
		return fmt.Errorf("%w: tag %#x does not belong to set %d",
			checkpoint.ErrMalformed, tag, set)
	}

	for _, b := range earlier {
		if b.State.IsValid() && b.Tag == tag {
			return fmt.Errorf("%w: tag %#x appears twice in set %d",
				checkpoint.ErrMalformed, tag, set)
		}
	}

	return nil
}
