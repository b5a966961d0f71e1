package material

import (
	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/logger"
)

// Handle shares one Material between geometries and counts its users.
// When the last user releases it the material is destroyed.
type Handle struct {
	Material
	owners map[uint64]int
}

// Share wraps m in a handle with no users.
func Share(m Material) *Handle {
	return &Handle{Material: m, owners: make(map[uint64]int)}
}

// Acquire records one more use by owner.
func (h *Handle) Acquire(owner uint64) {
	h.owners[owner]++
}

// Release drops one use by owner. It reports whether the handle became unused,
// in which case the material has been destroyed.
func (h *Handle) Release(owner uint64) bool {
	n, ok := h.owners[owner]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(h.owners, owner)
	} else {
		h.owners[owner] = n - 1
	}
	if len(h.owners) > 0 {
		return false
	}
	if d, ok := h.Material.(Destroyer); ok {
		d.Destroy()
	}
	logger.Named("material").Debug("material released",
		zap.Uint32("id", h.ID()),
		zap.String("name", h.Name()),
	)
	return true
}

// UsageCount returns the number of geometries using the material.
func (h *Handle) UsageCount() int {
	return len(h.owners)
}

// UsedBy reports whether owner uses the material.
func (h *Handle) UsedBy(owner uint64) bool {
	_, ok := h.owners[owner]
	return ok
}

// UsedElsewhere reports whether any geometry other than owner uses the material.
func (h *Handle) UsedElsewhere(owner uint64) bool {
	if _, ok := h.owners[owner]; ok {
		return len(h.owners) > 1
	}
	return len(h.owners) > 0
}

// Library indexes shared materials by id. Mesh loading resolves serialized
// material ids through it.
type Library struct {
	byID map[uint32]*Handle
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{byID: make(map[uint32]*Handle)}
}

// Add registers m and returns its handle. Adding an id twice returns the
// existing handle.
func (l *Library) Add(m Material) *Handle {
	if h, ok := l.byID[m.ID()]; ok {
		return h
	}
	h := Share(m)
	l.byID[m.ID()] = h
	return h
}

// Get returns the handle for id.
func (l *Library) Get(id uint32) (*Handle, bool) {
	h, ok := l.byID[id]
	return h, ok
}

// Resolve returns the handle for id, creating a gray Basic material when the
// id is unknown.
func (l *Library) Resolve(id uint32) *Handle {
	if h, ok := l.byID[id]; ok {
		return h
	}
	return l.Add(NewBasic(id, "unresolved", [4]uint8{204, 204, 204, 255}))
}

// Len returns the number of registered materials.
func (l *Library) Len() int {
	return len(l.byID)
}
