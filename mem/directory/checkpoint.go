package directory

import (
	"fmt"
	"io"

	"github.com/sarchlab/cohsim/mem/checkpoint"
	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/geometry"
)

const (
	flatCheckpointKind   = "flat-directory"
	regionCheckpointKind = "region-directory"

	recordValid   = "V"
	recordInvalid = "I"
)

func validFlag(valid bool) string {
	if valid {
		return recordValid
	}

	return recordInvalid
}

func parseValidFlag(s string) (bool, error) {
	switch s {
	case recordValid:
		return true, nil
	case recordInvalid:
		return false, nil
	}

	return false, fmt.Errorf("%w: unknown entry state %q",
		checkpoint.ErrMalformed, s)
}

func sharersFromList(nodes []int, numNodes int) (coherence.SharerSet, error) {
	var s coherence.SharerSet

	for _, n := range nodes {
		if n < 0 || (numNodes > 0 && n >= numNodes) {
			return s, fmt.Errorf("%w: sharer %d out of range",
				checkpoint.ErrMalformed, n)
		}

		s.Add(n)
	}

	return s, nil
}

func checkTag(
	layout geometry.Layout,
	set int,
	tag uint64,
	earlier []uint64,
) error {
	if layout.Tag(tag) != tag || layout.SetIndex(tag) != set {
		return fmt.Errorf("%w: tag %#x does not belong to set %d",
			checkpoint.ErrMalformed, tag, set)
	}

	for _, t := range earlier {
		if t == tag {
			return fmt.Errorf("%w: tag %#x appears twice in set %d",
				checkpoint.ErrMalformed, tag, set)
		}
	}

	return nil
}

func (d *FlatDirectory) checkpointHeader() checkpoint.Header {
	return checkpoint.Header{
		Kind:          flatCheckpointKind,
		Sets:          d.layout.NumSets(),
		Associativity: d.layout.Associativity(),
	}
}

// Save writes the tag and sharers of every entry. Protected flags and the
// evict buffer are not part of a checkpoint.
func (d *FlatDirectory) Save(w io.Writer) error {
	return checkpoint.WriteAll(w, d.checkpointHeader(),
		func(set, way int) checkpoint.Record {
			e := d.sets[set][way]

			return checkpoint.Record{
				Tag:     e.tag,
				State:   validFlag(e.valid),
				Sharers: e.sharers.List(),
				Owner:   coherence.NoNode,
			}
		})
}

// Load replaces the directory content with a saved checkpoint. Nothing
// changes if the checkpoint is rejected.
func (d *FlatDirectory) Load(r io.Reader) error {
	sets := make([][]flatEntry, len(d.sets))
	tags := make([][]uint64, len(d.sets))

	for i := range sets {
		sets[i] = make([]flatEntry, len(d.sets[i]))
	}

	err := checkpoint.ReadAll(r, d.checkpointHeader(),
		func(set, way int, rec checkpoint.Record) error {
			valid, err := parseValidFlag(rec.State)
			if err != nil {
				return err
			}

			sharers, err := sharersFromList(rec.Sharers, d.numNodes)
			if err != nil {
				return err
			}

			if valid {
				err = checkTag(d.layout, set, rec.Tag, tags[set])
				if err != nil {
					return err
				}

				tags[set] = append(tags[set], rec.Tag)
			}

			sets[set][way] = flatEntry{
				tag:     rec.Tag,
				valid:   valid,
				sharers: sharers,
			}

			return nil
		})
	if err != nil {
		return err
	}

	for s := range d.sets {
		for w := range sets[s] {
			sets[s][w].gen = d.sets[s][w].gen + 1
		}

		d.sets[s] = sets[s]
		d.recency[s].Reset()
	}

	return nil
}

func (d *RegionDirectory) checkpointHeader() checkpoint.Header {
	return checkpoint.Header{
		Kind:            regionCheckpointKind,
		Sets:            d.layout.NumSets(),
		Associativity:   d.layout.Associativity(),
		BlocksPerRegion: d.blocksPerRegion,
	}
}

// Save writes the tag, owner and per-block sharers of every region.
func (d *RegionDirectory) Save(w io.Writer) error {
	return checkpoint.WriteAll(w, d.checkpointHeader(),
		func(set, way int) checkpoint.Record {
			e := d.sets[set][way]
			blocks := make([][]int, len(e.blocks))

			for i, s := range e.blocks {
				blocks[i] = s.List()
			}

			return checkpoint.Record{
				Tag:    e.tag,
				State:  validFlag(e.valid),
				Owner:  e.owner,
				Blocks: blocks,
			}
		})
}

// Load replaces the directory content with a saved checkpoint. Nothing
// changes if the checkpoint is rejected.
func (d *RegionDirectory) Load(r io.Reader) error {
	sets := make([][]regionEntry, len(d.sets))
	tags := make([][]uint64, len(d.sets))

	for i := range sets {
		sets[i] = make([]regionEntry, len(d.sets[i]))
	}

	err := checkpoint.ReadAll(r, d.checkpointHeader(),
		func(set, way int, rec checkpoint.Record) error {
			valid, err := parseValidFlag(rec.State)
			if err != nil {
				return err
			}

			if len(rec.Blocks) != d.blocksPerRegion {
				return fmt.Errorf("%w: set %d way %d has %d blocks, want %d",
					checkpoint.ErrMalformed, set, way,
					len(rec.Blocks), d.blocksPerRegion)
			}

			e := regionEntry{
				tag:       rec.Tag,
				valid:     valid,
				owner:     rec.Owner,
				blocks:    make([]coherence.SharerSet, d.blocksPerRegion),
				protected: make([]bool, d.blocksPerRegion),
			}

			for i, nodes := range rec.Blocks {
				e.blocks[i], err = sharersFromList(nodes, 0)
				if err != nil {
					return err
				}
			}

			if valid {
				err = checkTag(d.layout, set, rec.Tag, tags[set])
				if err != nil {
					return err
				}

				tags[set] = append(tags[set], rec.Tag)
			}

			sets[set][way] = e

			return nil
		})
	if err != nil {
		return err
	}

	for s := range d.sets {
		for w := range sets[s] {
			sets[s][w].gen = d.sets[s][w].gen + 1
		}

		d.sets[s] = sets[s]
	}

	return nil
}
