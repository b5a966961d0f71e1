package mesh

// Clone returns a deep copy sharing only the material handles, whose usage
// counts gain the clone. Primitive ids are renumbered past every id issued by
// the source and its other clones so picking never confuses them. GPU buffers
// are not copied; released data is read back for the copy.
func (m *Mesh) Clone() (*Mesh, error) {
	c := New(m.name)

	data, err := m.data.clone(m.name)
	if err != nil {
		return nil, err
	}
	wire, err := m.wire.clone(m.name)
	if err != nil {
		return nil, err
	}
	c.data, c.wire = data, wire

	shift := max(m.ids.last, m.nextPrimitiveID-1)
	renumber := func(ids []uint32) {
		for i, id := range ids {
			if id != 0 {
				ids[i] = id + shift
			}
		}
	}

	c.nextPrimitiveID = m.nextPrimitiveID + shift
	c.ids = m.ids
	c.ids.last = c.nextPrimitiveID - 1
	c.currentLod = m.currentLod
	c.colorPerVertex = m.colorPerVertex
	c.finished = m.finished
	c.defaultMaterial = m.defaultMaterial
	if m.bbox != nil {
		box := *m.bbox
		c.bbox = &box
	}

	for lod, byMaterial := range m.groups {
		groups := make(map[uint32]*PrimitiveGroup, len(byMaterial))
		for id, g := range byMaterial {
			cg := g.clone()
			renumber(cg.triangles.ids)
			renumber(cg.strips.ids)
			renumber(cg.fans.ids)
			groups[id] = cg
		}
		c.groups[lod] = groups
	}
	for i := range c.wire.lines {
		c.wire.lines[i].ID += shift
	}
	for id, h := range m.materials {
		c.materials[id] = h
		h.Acquire(c.id)
	}
	return c, nil
}
