package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotQuiescent is returned when a checkpoint is taken or restored while
// transactions are in flight.
var ErrNotQuiescent = errors.New("system is not quiescent")

type checkpointer interface {
	Save(w io.Writer) error
	Load(r io.Reader) error
}

func (s *System) checkpointParts() map[string]checkpointer {
	parts := make(map[string]checkpointer)

	for _, n := range s.nodes {
		parts[n.array.Name()] = n.array
	}

	for _, b := range s.banks {
		parts[b.Name()] = b.Engine().Store()
	}

	return parts
}

// SaveCheckpoint writes every cache and directory into dir, one file per
// structure.
func (s *System) SaveCheckpoint(dir string) error {
	if !s.Quiescent() {
		return fmt.Errorf("%w: %s at cycle %d", ErrNotQuiescent, s.name, s.cycle)
	}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	for name, part := range s.checkpointParts() {
		err = saveFile(filepath.Join(dir, name+".json"), part)
		if err != nil {
			return fmt.Errorf("saving %s: %w", name, err)
		}
	}

	return nil
}

// LoadCheckpoint restores every cache and directory from dir. The system
// must have the same shape as the one that saved it.
func (s *System) LoadCheckpoint(dir string) error {
	if !s.Quiescent() {
		return fmt.Errorf("%w: %s at cycle %d", ErrNotQuiescent, s.name, s.cycle)
	}

	for name, part := range s.checkpointParts() {
		err := loadFile(filepath.Join(dir, name+".json"), part)
		if err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}

	return nil
}

func saveFile(path string, part checkpointer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	err = part.Save(f)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func loadFile(path string, part checkpointer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return part.Load(f)
}
