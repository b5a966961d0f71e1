package mesh

import "github.com/Faultbox/lodmesh/internal/engine/gpu"

// LodBuffer holds the index sequence of one level of detail. Every primitive
// group of the level addresses a slice of it.
type LodBuffer struct {
	level    int
	accuracy float64
	indices  []uint32
	// size is the index count kept after the CPU copy is released.
	size int
	ibo  gpu.Buffer
}

func newLodBuffer(level int, accuracy float64) *LodBuffer {
	return &LodBuffer{level: level, accuracy: accuracy}
}

// Level returns the level key the buffer was created for.
func (l *LodBuffer) Level() int { return l.level }

// Accuracy returns the accuracy recorded for the level.
func (l *LodBuffer) Accuracy() float64 { return l.accuracy }

// IndexCount returns the number of indices, whether or not they are held on
// the CPU.
func (l *LodBuffer) IndexCount() int {
	if l.indices != nil {
		return len(l.indices)
	}
	return l.size
}

// Indices returns the CPU index sequence, nil once released.
func (l *LodBuffer) Indices() []uint32 {
	return l.indices
}

// Buffer returns the GPU index buffer, zero when none was created.
func (l *LodBuffer) Buffer() gpu.Buffer {
	return l.ibo
}

// appendIndices adds indices at the end and returns the element offset at
// which they start.
func (l *LodBuffer) appendIndices(indices []uint32) uint32 {
	base := uint32(len(l.indices))
	l.indices = append(l.indices, indices...)
	return base
}
