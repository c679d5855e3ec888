package memory

import (
	"fmt"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/scs"
	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/store"
)

// GenerateFromSCs parses SCs text and writes the lowered elements and triples
// into memory. System identifiers resolve against (and register into) the
// memory-wide identifier table, so repeated generation reuses the same named
// elements. It returns the addresses of all named elements in the text.
func (c *Context) GenerateFromSCs(text string) (map[string]store.Addr, error) {
	var p scs.Parser
	if err := p.Parse(text); err != nil {
		return nil, err
	}

	elements := p.Elements()
	addrs := make([]store.Addr, len(elements))

	// Connectors are created when their triple is processed; everything
	// else is created (or resolved) up front.
	for i, el := range elements {
		if el.Type.IsArc() {
			continue
		}
		a, err := c.createParsedElement(el)
		if err != nil {
			return nil, err
		}
		addrs[i] = a
	}

	for _, t := range p.Triples() {
		src := addrs[t.Source]
		trg := addrs[t.Target]
		if src.IsEmpty() || trg.IsEmpty() {
			return nil, fmt.Errorf("%w: triple references an element that was not generated", store.ErrInvalidParams)
		}
		edgeEl := p.Element(t.Edge)
		if !edgeEl.Type.IsArc() {
			return nil, fmt.Errorf("%w: triple connector is not an arc type", store.ErrInvalidParams)
		}
		arc, err := c.CreateArc(edgeEl.Type, src, trg)
		if err != nil {
			return nil, err
		}
		addrs[t.Edge] = arc
	}

	named := make(map[string]store.Addr)
	for i, el := range elements {
		if el.Idtf != "" && !addrs[i].IsEmpty() {
			named[el.Idtf] = addrs[i]
		}
	}
	return named, nil
}

// createParsedElement materializes one non-connector parsed element.
func (c *Context) createParsedElement(el scs.ParsedElement) (store.Addr, error) {
	if el.Type.IsLink() {
		a, err := c.CreateLink(el.Type)
		if err != nil {
			return store.AddrEmpty, err
		}
		if err := c.SetLinkContent(a, []byte(el.Value), true); err != nil {
			return store.AddrEmpty, err
		}
		return a, nil
	}

	// Named system elements resolve through the identifier table.
	if el.Idtf != "" && el.Visibility == scs.VisibilitySystem {
		if a, ok := c.m.ResolveIdtf(el.Idtf); ok {
			c.upgradeType(a, el.Type)
			return a, nil
		}
		a, err := c.CreateNode(el.Type)
		if err != nil {
			return store.AddrEmpty, err
		}
		if err := c.m.RegisterIdtf(el.Idtf, a); err != nil {
			// A concurrent generation won the name; adopt its element.
			if winner, ok := c.m.ResolveIdtf(el.Idtf); ok {
				_ = c.Erase(a)
				c.upgradeType(winner, el.Type)
				return winner, nil
			}
			return store.AddrEmpty, err
		}
		return a, nil
	}

	return c.CreateNode(el.Type)
}

// upgradeType widens an existing element's subtype with the bits the new
// text mentions. Kind changes are refused by the store and ignored here; the
// original typing wins.
func (c *Context) upgradeType(a store.Addr, t store.Type) {
	cur, err := c.GetType(a)
	if err != nil {
		return
	}
	merged := cur | (t &^ store.TypeElementMask)
	if merged != cur {
		_ = c.ChangeSubtype(a, merged)
	}
}
