package core

// EntityCache indexes existing entities of one definition by business key.
// Keys are compared case-insensitively. When two entities share a key the
// one indexed last wins. Entities without a key value cannot be looked up
// but are still listed by Entities.
type EntityCache struct {
	field   string
	index   map[string]Entity
	order   []string
	unkeyed []Entity
}

// BuildCache indexes entities by the value of field.
func BuildCache(entities []Entity, field string) *EntityCache {
	c := &EntityCache{
		field: field,
		index: make(map[string]Entity, len(entities)),
	}
	for _, e := range entities {
		c.Index(e)
	}
	return c
}

// Field returns the business-key field the cache is indexed by.
func (c *EntityCache) Field() string { return c.field }

// Lookup finds the entity whose key matches value.
func (c *EntityCache) Lookup(value any) (Entity, bool) {
	e, ok := c.index[KeyOf(value)]
	return e, ok
}

// Index inserts or replaces e under its current key value.
func (c *EntityCache) Index(e Entity) {
	v, ok := e.Get(c.field)
	if !ok || isNull(v) {
		c.unkeyed = append(c.unkeyed, e)
		return
	}
	key := KeyOf(v)
	if _, ok := c.index[key]; !ok {
		c.order = append(c.order, key)
	}
	c.index[key] = e
}

// Entities returns the keyed entities in first-indexed key order, followed
// by the unkeyed ones.
func (c *EntityCache) Entities() []Entity {
	out := make([]Entity, 0, len(c.order)+len(c.unkeyed))
	for _, k := range c.order {
		out = append(out, c.index[k])
	}
	return append(out, c.unkeyed...)
}

// Len returns the number of distinct keys.
func (c *EntityCache) Len() int { return len(c.index) }
