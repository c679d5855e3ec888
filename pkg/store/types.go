package store

// Type is the bitfield encoding of an element's kind and subtypes.
//
// The low bits select the element kind (node, link, or one of the three arc
// kinds); the remaining bits carry constancy, arc qualifiers and node
// qualifiers. A query mask matches a candidate type when every bit of the
// mask is present in the candidate (see Type.Matches).
type Type uint32

// Element kinds.
const (
	TypeNode       Type = 1 << 0
	TypeLink       Type = 1 << 1
	TypeEdgeCommon Type = 1 << 2 // undirected edge
	TypeArcCommon  Type = 1 << 3 // directed common arc
	TypeArcAccess  Type = 1 << 4 // directed access arc
)

// Constancy.
const (
	TypeConst Type = 1 << 5
	TypeVar   Type = 1 << 6
)

// Access-arc qualifiers.
const (
	TypeArcPos  Type = 1 << 7
	TypeArcNeg  Type = 1 << 8
	TypeArcFuz  Type = 1 << 9
	TypeArcTemp Type = 1 << 10
	TypeArcPerm Type = 1 << 11
)

// Node qualifiers.
const (
	TypeNodeTuple    Type = 1 << 12
	TypeNodeStruct   Type = 1 << 13
	TypeNodeRole     Type = 1 << 14
	TypeNodeNoRole   Type = 1 << 15
	TypeNodeClass    Type = 1 << 16
	TypeNodeAbstract Type = 1 << 17
	TypeNodeMaterial Type = 1 << 18
)

// Masks.
const (
	TypeElementMask    = TypeNode | TypeLink | TypeEdgeCommon | TypeArcCommon | TypeArcAccess
	TypeArcMask        = TypeEdgeCommon | TypeArcCommon | TypeArcAccess
	TypeConstancyMask  = TypeConst | TypeVar
	TypePositivityMask = TypeArcPos | TypeArcNeg | TypeArcFuz
	TypePermanencyMask = TypeArcTemp | TypeArcPerm
	TypeNodeStructMask = TypeNodeTuple | TypeNodeStruct | TypeNodeRole | TypeNodeNoRole | TypeNodeClass | TypeNodeAbstract | TypeNodeMaterial
)

// Common composite types. The surface syntax and the tests speak in these.
const (
	TypeNodeConst = TypeNode | TypeConst
	TypeNodeVar   = TypeNode | TypeVar

	TypeNodeConstTuple    = TypeNodeConst | TypeNodeTuple
	TypeNodeConstStruct   = TypeNodeConst | TypeNodeStruct
	TypeNodeVarStruct     = TypeNodeVar | TypeNodeStruct
	TypeNodeConstRole     = TypeNodeConst | TypeNodeRole
	TypeNodeVarNoRole     = TypeNodeVar | TypeNodeNoRole
	TypeNodeConstClass    = TypeNodeConst | TypeNodeClass
	TypeNodeConstAbstract = TypeNodeConst | TypeNodeAbstract
	TypeNodeConstMaterial = TypeNodeConst | TypeNodeMaterial

	TypeLinkConst = TypeLink | TypeConst
	TypeLinkVar   = TypeLink | TypeVar

	TypeEdgeUCommonConst = TypeEdgeCommon | TypeConst
	TypeEdgeUCommonVar   = TypeEdgeCommon | TypeVar
	TypeEdgeDCommonConst = TypeArcCommon | TypeConst
	TypeEdgeDCommonVar   = TypeArcCommon | TypeVar

	TypeEdgeAccessConstPosPerm = TypeArcAccess | TypeConst | TypeArcPos | TypeArcPerm
	TypeEdgeAccessVarPosPerm   = TypeArcAccess | TypeVar | TypeArcPos | TypeArcPerm
	TypeEdgeAccessConstNegPerm = TypeArcAccess | TypeConst | TypeArcNeg | TypeArcPerm
	TypeEdgeAccessVarNegPerm   = TypeArcAccess | TypeVar | TypeArcNeg | TypeArcPerm
	TypeEdgeAccessConstFuzPerm = TypeArcAccess | TypeConst | TypeArcFuz | TypeArcPerm
	TypeEdgeAccessVarFuzPerm   = TypeArcAccess | TypeVar | TypeArcFuz | TypeArcPerm
	TypeEdgeAccessConstPosTemp = TypeArcAccess | TypeConst | TypeArcPos | TypeArcTemp
	TypeEdgeAccessVarPosTemp   = TypeArcAccess | TypeVar | TypeArcPos | TypeArcTemp
	TypeEdgeAccessConstNegTemp = TypeArcAccess | TypeConst | TypeArcNeg | TypeArcTemp
	TypeEdgeAccessVarNegTemp   = TypeArcAccess | TypeVar | TypeArcNeg | TypeArcTemp
	TypeEdgeAccessConstFuzTemp = TypeArcAccess | TypeConst | TypeArcFuz | TypeArcTemp
	TypeEdgeAccessVarFuzTemp   = TypeArcAccess | TypeVar | TypeArcFuz | TypeArcTemp
)

// IsNode reports whether t is a node (links are nodes with a payload, but are
// reported separately).
func (t Type) IsNode() bool { return t&TypeNode != 0 }

// IsLink reports whether t is a link.
func (t Type) IsLink() bool { return t&TypeLink != 0 }

// IsArc reports whether t is any connector kind.
func (t Type) IsArc() bool { return t&TypeArcMask != 0 }

// IsEdge reports whether t is an undirected edge.
func (t Type) IsEdge() bool { return t&TypeEdgeCommon != 0 }

// IsConst reports whether t carries the const marker.
func (t Type) IsConst() bool { return t&TypeConst != 0 }

// IsVar reports whether t carries the var marker.
func (t Type) IsVar() bool { return t&TypeVar != 0 }

// Matches reports whether a candidate type satisfies a query mask: every bit
// of the mask must be present in the candidate.
func (t Type) Matches(mask Type) bool { return t&mask == mask }
