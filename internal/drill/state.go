package drill

import (
	"context"
	"sync"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
)

// State keeps what the worker learned from earlier requests: the holes found
// in each solder mask and the mask each session is calibrating against.
type State interface {
	SaveHoles(ctx context.Context, image string, holes []gcode.Coordinate) error
	Holes(ctx context.Context, image string) ([]gcode.Coordinate, bool, error)
	SaveSolderMask(ctx context.Context, session, image string) error
	SolderMask(ctx context.Context, session string) (string, bool, error)
}

// MemoryState is a State that lives as long as the process.
type MemoryState struct {
	mu    sync.Mutex
	holes map[string][]gcode.Coordinate
	masks map[string]string
}

var _ State = (*MemoryState)(nil)

func NewMemoryState() *MemoryState {
	return &MemoryState{
		holes: make(map[string][]gcode.Coordinate),
		masks: make(map[string]string),
	}
}

func (m *MemoryState) SaveHoles(_ context.Context, image string, holes []gcode.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holes[image] = append([]gcode.Coordinate(nil), holes...)
	return nil
}

func (m *MemoryState) Holes(_ context.Context, image string) ([]gcode.Coordinate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holes, ok := m.holes[image]
	return append([]gcode.Coordinate(nil), holes...), ok, nil
}

func (m *MemoryState) SaveSolderMask(_ context.Context, session, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masks[session] = image
	return nil
}

func (m *MemoryState) SolderMask(_ context.Context, session string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	image, ok := m.masks[session]
	return image, ok, nil
}
