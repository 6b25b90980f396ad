package sim

// MemoryContext is an arena. It only counts what is allocated in it, which
// is enough to see where the bridge leaves its allocations.
type MemoryContext struct {
	name   string
	parent *MemoryContext
	allocs int
	frees  int
	resets int
}

func newMemoryContext(name string, parent *MemoryContext) *MemoryContext {
	return &MemoryContext{name: name, parent: parent}
}

// Name returns the context name.
func (m *MemoryContext) Name() string {
	return m.name
}

// Parent returns the parent context, or nil for the top context.
func (m *MemoryContext) Parent() *MemoryContext {
	return m.parent
}

// Live returns the number of allocations not yet freed or reset.
func (m *MemoryContext) Live() int {
	return m.allocs - m.frees
}

// Allocations returns the total number of allocations ever made.
func (m *MemoryContext) Allocations() int {
	return m.allocs
}

// Resets returns how often the context was reset.
func (m *MemoryContext) Resets() int {
	return m.resets
}

func (m *MemoryContext) alloc() {
	m.allocs++
}

func (m *MemoryContext) free() {
	if m.frees < m.allocs {
		m.frees++
	}
}

func (m *MemoryContext) reset() {
	m.frees = m.allocs
	m.resets++
}
