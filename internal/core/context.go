package core

// EntityContext holds the entities imported (or found) so far in one run,
// per definition name, keyed by lower-cased primary-key value. Later
// definitions resolve foreign keys against it by business key.
type EntityContext struct {
	types map[string]*contextIndex
}

type contextIndex struct {
	byKey map[string]Entity
	order []string
}

// NewEntityContext returns an empty context.
func NewEntityContext() *EntityContext {
	return &EntityContext{types: make(map[string]*contextIndex)}
}

// Put records e under key for the given definition. A repeated key
// replaces the previous entity; a null key records nothing.
func (c *EntityContext) Put(entity string, key any, e Entity) {
	if isNull(key) {
		return
	}
	idx, ok := c.types[entity]
	if !ok {
		idx = &contextIndex{byKey: make(map[string]Entity)}
		c.types[entity] = idx
	}
	k := KeyOf(key)
	if _, exists := idx.byKey[k]; !exists {
		idx.order = append(idx.order, k)
	}
	idx.byKey[k] = e
}

// Seed copies every cached entity into the context under field's value.
func (c *EntityContext) Seed(entity string, cache *EntityCache, field string) {
	for _, e := range cache.Entities() {
		v, _ := e.Get(field)
		c.Put(entity, v, e)
	}
}

// Lookup resolves a business key. A miss returns a *ReferenceError.
func (c *EntityContext) Lookup(entity string, key any) (Entity, error) {
	if idx, ok := c.types[entity]; ok {
		if e, ok := idx.byKey[KeyOf(key)]; ok {
			return e, nil
		}
	}
	return nil, &ReferenceError{Entity: entity, Key: FormatValue(key)}
}

// First returns the earliest entity recorded for a definition.
func (c *EntityContext) First(entity string) (Entity, bool) {
	idx, ok := c.types[entity]
	if !ok || len(idx.order) == 0 {
		return nil, false
	}
	return idx.byKey[idx.order[0]], true
}

// Len returns how many keys are recorded for a definition.
func (c *EntityContext) Len(entity string) int {
	if idx, ok := c.types[entity]; ok {
		return len(idx.byKey)
	}
	return 0
}
