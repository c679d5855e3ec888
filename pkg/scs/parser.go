// Package scs parses SCs text, the surface syntax of the sc-memory, and
// lowers it into a flat list of parsed elements and triples. The storage core
// consumes only the lowered form; writing it into memory is the wrapper
// API's job.
//
// All six nesting levels are covered: plain triples and reversed connectors,
// parenthesized sub-triples, attribute pairs, semicolon continuations,
// contours with inline sub-sentences, and set/content literals. Constancy is
// marked by a leading underscore; connector glyphs encode the full arc type.
package scs

import (
	"fmt"
	"strings"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/store"
)

// Parser lowers one SCs text. The zero value is ready to use; Parse may be
// called once per Parser.
type Parser struct {
	elements []ParsedElement
	triples  []ParsedTriple

	names   map[string]ElementHandle
	aliases map[string]ElementHandle

	toks []token
	pos  int

	// Active contour trackers; every element referenced by a triple emitted
	// while a contour is open becomes a member of that contour.
	contours []*contourScope
}

type contourScope struct {
	structHandle ElementHandle
	seen         map[ElementHandle]struct{}
	members      []ElementHandle
}

type attrPair struct {
	attr ElementHandle
	vr   bool // '::' attribute
}

// Parse lowers text. On error the already-lowered prefix stays readable but
// incomplete.
func (p *Parser) Parse(text string) error {
	toks, err := newLexer(text).tokens()
	if err != nil {
		return err
	}
	p.toks = toks
	p.names = map[string]ElementHandle{}
	p.aliases = map[string]ElementHandle{}

	for p.peek().kind != tokenEOF {
		if err := p.parseSentence(); err != nil {
			return err
		}
		if err := p.expect(tokenSemiSemi); err != nil {
			return err
		}
	}
	return nil
}

// Triples returns the lowered triples in emission order.
func (p *Parser) Triples() []ParsedTriple { return p.triples }

// Elements returns all lowered elements.
func (p *Parser) Elements() []ParsedElement { return p.elements }

// Element returns one parsed element by handle.
func (p *Parser) Element(h ElementHandle) ParsedElement {
	return p.elements[h]
}

// Alias resolves a bound alias name (without the leading @).
func (p *Parser) Alias(name string) (ElementHandle, bool) {
	h, ok := p.aliases[name]
	return h, ok
}

func (p *Parser) peek() token { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *Parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("scs: %d:%d: "+format, append([]any{t.line, t.col}, args...)...)
}

func (p *Parser) expect(kind tokenKind) error {
	t := p.peek()
	if t.kind != kind {
		return p.errorf(t, "unexpected %s", t)
	}
	p.next()
	return nil
}

func (p *Parser) newElement(el ParsedElement) ElementHandle {
	p.elements = append(p.elements, el)
	return ElementHandle(len(p.elements) - 1)
}

// emit appends one triple and records its elements as members of every open
// contour. Sentences whose source is a node-subtype keyword retype the
// target instead.
func (p *Parser) emit(src, edge, trg ElementHandle) error {
	srcEl := &p.elements[src]
	if kw, isKw := nodeTypeKeywords[srcEl.Idtf]; isKw {
		return p.retype(trg, kw)
	}

	p.triples = append(p.triples, ParsedTriple{Source: src, Edge: edge, Target: trg})
	for _, c := range p.contours {
		for _, h := range [3]ElementHandle{src, edge, trg} {
			if _, ok := c.seen[h]; ok {
				continue
			}
			c.seen[h] = struct{}{}
			c.members = append(c.members, h)
		}
	}
	return nil
}

// retype applies a node subtype keyword to an element. Conflicting subtype
// markers are a parse error.
func (p *Parser) retype(h ElementHandle, subtype store.Type) error {
	el := &p.elements[h]
	cur := el.Type & store.TypeNodeStructMask
	if cur != 0 && cur != subtype {
		return fmt.Errorf("scs: conflicting node subtypes for %q", el.Idtf)
	}
	el.Type |= subtype
	return nil
}

// resolveIdtf returns the element for a named identifier, creating it on
// first use. A leading underscore (after the visibility prefix) marks the
// element variable.
func (p *Parser) resolveIdtf(name string) ElementHandle {
	if h, ok := p.names[name]; ok {
		return h
	}

	vis := VisibilitySystem
	trimmed := name
	switch {
	case strings.HasPrefix(name, ".."):
		vis = VisibilityLocal
		trimmed = name[2:]
	case strings.HasPrefix(name, "."):
		vis = VisibilityGlobal
		trimmed = name[1:]
	}

	typ := store.TypeNodeConst
	if strings.HasPrefix(trimmed, "_") {
		typ = store.TypeNodeVar
	}

	h := p.newElement(ParsedElement{Type: typ, Idtf: name, Visibility: vis})
	p.names[name] = h
	return h
}

// parseSentence handles one ';;'-terminated sentence: an alias assignment, a
// level-1 triple, or a common sentence with clause continuations.
func (p *Parser) parseSentence() error {
	if p.peek().kind == tokenAlias && p.peekAt(1).kind == tokenEqual {
		name := p.next().text
		p.next() // '='
		h, err := p.parseIdtf()
		if err != nil {
			return err
		}
		p.aliases[name] = h
		return nil
	}

	src, err := p.parseIdtf()
	if err != nil {
		return err
	}

	if p.peek().kind == tokenPipe {
		return p.parseLevel1(src)
	}

	for {
		if err := p.parseClause(src); err != nil {
			return err
		}
		// A ';' followed by a connector continues the sentence with a new
		// clause on the same source.
		if p.peek().kind == tokenSemi && p.peekAt(1).kind == tokenConnector {
			p.next()
			continue
		}
		return nil
	}
}

// parseLevel1 finishes a 'src | edge | trg' sentence. The connector slot is
// an element of its own, typically a typed sc_edge#name identifier.
func (p *Parser) parseLevel1(src ElementHandle) error {
	if err := p.expect(tokenPipe); err != nil {
		return err
	}
	edge, err := p.parseIdtf()
	if err != nil {
		return err
	}
	if err := p.expect(tokenPipe); err != nil {
		return err
	}
	trg, err := p.parseIdtf()
	if err != nil {
		return err
	}
	return p.emit(src, edge, trg)
}

// parseClause parses 'connector attr* target (; target)*' and emits the
// clause's triples: per target, the main triple first, then one attribute
// arc onto the main connector per attribute.
func (p *Parser) parseClause(src ElementHandle) error {
	connTok := p.peek()
	if connTok.kind != tokenConnector {
		return p.errorf(connTok, "expected connector, got %s", connTok)
	}
	p.next()
	conn := connectorTypes[connTok.text]

	attrs, err := p.parseAttrList()
	if err != nil {
		return err
	}

	for {
		if err := p.parseClauseTarget(src, conn, attrs); err != nil {
			return err
		}
		// ';' followed by a non-connector token continues the target list.
		if p.peek().kind == tokenSemi && p.peekAt(1).kind != tokenConnector {
			p.next()
			continue
		}
		return nil
	}
}

func (p *Parser) parseAttrList() ([]attrPair, error) {
	var attrs []attrPair
	for p.peek().kind == tokenIdent || p.peek().kind == tokenAlias {
		sep := p.peekAt(1).kind
		if sep != tokenColon && sep != tokenDblColon {
			break
		}
		attr, err := p.parseIdtf()
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attrPair{attr: attr, vr: p.next().kind == tokenDblColon})
	}
	return attrs, nil
}

func (p *Parser) parseClauseTarget(src ElementHandle, conn connectorInfo, attrs []attrPair) error {
	trg, err := p.parseIdtf()
	if err != nil {
		return err
	}

	// Inline sub-sentences bind to the target as their implicit source and
	// lower before the enclosing triple.
	if p.peek().kind == tokenInOpen {
		if err := p.parseInternal(trg); err != nil {
			return err
		}
	}

	s, t := src, trg
	if conn.reversed {
		s, t = t, s
	}
	edge := p.newElement(ParsedElement{Type: conn.typ, Visibility: VisibilityLocal})
	if err := p.emit(s, edge, t); err != nil {
		return err
	}

	for _, a := range attrs {
		typ := store.TypeEdgeAccessConstPosPerm
		if a.vr {
			typ = store.TypeEdgeAccessVarPosPerm
		}
		attrEdge := p.newElement(ParsedElement{Type: typ, Visibility: VisibilityLocal})
		if err := p.emit(a.attr, attrEdge, edge); err != nil {
			return err
		}
	}
	return nil
}

// parseInternal parses a '(* ... *)' block of sentences sharing an implicit
// source.
func (p *Parser) parseInternal(src ElementHandle) error {
	p.next() // '(*'
	for p.peek().kind != tokenInClose {
		if p.peek().kind == tokenEOF {
			return p.errorf(p.peek(), "unterminated internal sentence block")
		}
		if err := p.parseClause(src); err != nil {
			return err
		}
		for p.peek().kind == tokenSemi && p.peekAt(1).kind == tokenConnector {
			p.next()
			if err := p.parseClause(src); err != nil {
				return err
			}
		}
		if err := p.expect(tokenSemiSemi); err != nil {
			return err
		}
	}
	p.next()
	return nil
}

// parseIdtf parses one identifier position: a name, an alias use, a
// sub-triple, a set literal, a contour, a content literal, or a URL string.
func (p *Parser) parseIdtf() (ElementHandle, error) {
	t := p.peek()
	switch t.kind {
	case tokenIdent:
		p.next()
		if typ, name, ok := splitLevel1Idtf(t.text); ok {
			return p.resolveTyped(t.text, name, typ), nil
		}
		return p.resolveIdtf(t.text), nil

	case tokenAlias:
		p.next()
		h, ok := p.aliases[t.text]
		if !ok {
			return InvalidHandle, p.errorf(t, "alias @%s used before assignment", t.text)
		}
		return h, nil

	case tokenLParen:
		return p.parseSubTriple()

	case tokenLBrace:
		return p.parseSetLiteral()

	case tokenCtrOpen:
		return p.parseContour()

	case tokenContent:
		p.next()
		typ := store.TypeLinkConst
		if t.vr {
			typ = store.TypeLinkVar
		}
		return p.newElement(ParsedElement{Type: typ, Visibility: VisibilityLocal, Value: t.text}), nil

	case tokenString:
		p.next()
		return p.newElement(ParsedElement{Type: store.TypeLink, Visibility: VisibilityLocal, Value: t.text, IsURL: true}), nil
	}
	return InvalidHandle, p.errorf(t, "expected identifier, got %s", t)
}

// splitLevel1Idtf recognizes 'type#name' level-1 identifiers.
func splitLevel1Idtf(text string) (store.Type, string, bool) {
	i := strings.IndexByte(text, '#')
	if i < 0 {
		return 0, "", false
	}
	typ, ok := level1Types[text[:i]]
	if !ok {
		return 0, "", false
	}
	return typ, text[i+1:], true
}

// resolveTyped resolves a level-1 identifier: same identity rules as plain
// names, but the keyword fixes the element type.
func (p *Parser) resolveTyped(key, name string, typ store.Type) ElementHandle {
	if h, ok := p.names[key]; ok {
		return h
	}
	h := p.newElement(ParsedElement{Type: typ, Idtf: name, Visibility: VisibilitySystem})
	p.names[key] = h
	return h
}

// parseSubTriple parses '( src connector attr* trg )' and yields the inner
// connector element.
func (p *Parser) parseSubTriple() (ElementHandle, error) {
	p.next() // '('
	src, err := p.parseIdtf()
	if err != nil {
		return InvalidHandle, err
	}

	connTok := p.peek()
	if connTok.kind != tokenConnector {
		return InvalidHandle, p.errorf(connTok, "expected connector in sub-triple, got %s", connTok)
	}
	p.next()
	conn := connectorTypes[connTok.text]

	attrs, err := p.parseAttrList()
	if err != nil {
		return InvalidHandle, err
	}
	trg, err := p.parseIdtf()
	if err != nil {
		return InvalidHandle, err
	}
	if err := p.expect(tokenRParen); err != nil {
		return InvalidHandle, err
	}

	s, t := src, trg
	if conn.reversed {
		s, t = t, s
	}
	edge := p.newElement(ParsedElement{Type: conn.typ, Visibility: VisibilityLocal})
	if err := p.emit(s, edge, t); err != nil {
		return InvalidHandle, err
	}
	for _, a := range attrs {
		typ := store.TypeEdgeAccessConstPosPerm
		if a.vr {
			typ = store.TypeEdgeAccessVarPosPerm
		}
		attrEdge := p.newElement(ParsedElement{Type: typ, Visibility: VisibilityLocal})
		if err := p.emit(a.attr, attrEdge, edge); err != nil {
			return InvalidHandle, err
		}
	}
	return edge, nil
}

// parseSetLiteral parses '{ item (; item)* }' where each item is
// 'attr* idtf'. The literal lowers to a fresh tuple node with one membership
// arc per item.
func (p *Parser) parseSetLiteral() (ElementHandle, error) {
	p.next() // '{'
	tuple := p.newElement(ParsedElement{Type: store.TypeNodeConstTuple, Visibility: VisibilityLocal})

	for {
		attrs, err := p.parseAttrList()
		if err != nil {
			return InvalidHandle, err
		}
		item, err := p.parseIdtf()
		if err != nil {
			return InvalidHandle, err
		}

		edge := p.newElement(ParsedElement{Type: store.TypeEdgeAccessConstPosPerm, Visibility: VisibilityLocal})
		if err := p.emit(tuple, edge, item); err != nil {
			return InvalidHandle, err
		}
		for _, a := range attrs {
			typ := store.TypeEdgeAccessConstPosPerm
			if a.vr {
				typ = store.TypeEdgeAccessVarPosPerm
			}
			attrEdge := p.newElement(ParsedElement{Type: typ, Visibility: VisibilityLocal})
			if err := p.emit(a.attr, attrEdge, edge); err != nil {
				return InvalidHandle, err
			}
		}

		if p.peek().kind == tokenSemi {
			p.next()
			continue
		}
		break
	}
	if err := p.expect(tokenRBrace); err != nil {
		return InvalidHandle, err
	}
	return tuple, nil
}

// parseContour parses '[* sentence* *]'. The contour lowers to a struct node
// plus one membership arc for every element referenced by a triple emitted
// inside it, in first-reference order.
func (p *Parser) parseContour() (ElementHandle, error) {
	p.next() // '[*'
	structH := p.newElement(ParsedElement{Type: store.TypeNodeConstStruct, Visibility: VisibilityLocal})

	scope := &contourScope{structHandle: structH, seen: map[ElementHandle]struct{}{}}
	p.contours = append(p.contours, scope)

	for p.peek().kind != tokenCtrClose {
		if p.peek().kind == tokenEOF {
			p.contours = p.contours[:len(p.contours)-1]
			return InvalidHandle, p.errorf(p.peek(), "unterminated contour")
		}
		if err := p.parseSentence(); err != nil {
			p.contours = p.contours[:len(p.contours)-1]
			return InvalidHandle, err
		}
		if err := p.expect(tokenSemiSemi); err != nil {
			p.contours = p.contours[:len(p.contours)-1]
			return InvalidHandle, err
		}
	}
	p.next() // '*]'
	p.contours = p.contours[:len(p.contours)-1]

	for _, member := range scope.members {
		edge := p.newElement(ParsedElement{Type: store.TypeEdgeAccessConstPosPerm, Visibility: VisibilityLocal})
		if err := p.emit(structH, edge, member); err != nil {
			return InvalidHandle, err
		}
	}
	return structH, nil
}
