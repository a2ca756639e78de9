// Package acl implements the permission model described in the core's
// data model and §4.14: principals, access control lists with inheritance,
// and the chain-evaluation algorithm an HTTP content request is checked
// against.
package acl

import "strings"

// PrincipalType distinguishes a user from a group.
type PrincipalType int

const (
	UserPrincipal PrincipalType = iota
	GroupPrincipal
)

// Principal is a named identity within a namespace.
type Principal struct {
	Type      PrincipalType
	Name      string
	Namespace string
}

func User(name, namespace string) Principal  { return Principal{Type: UserPrincipal, Name: name, Namespace: namespace} }
func Group(name, namespace string) Principal { return Principal{Type: GroupPrincipal, Name: name, Namespace: namespace} }

func (p Principal) equal(o Principal, caseSensitive bool) bool {
	if p.Type != o.Type || p.Namespace != o.Namespace {
		return false
	}
	if caseSensitive {
		return p.Name == o.Name
	}
	return strings.EqualFold(p.Name, o.Name)
}

// CaseSensitivity controls how principal names compare within an Acl.
type CaseSensitivity int

const (
	Sensitive CaseSensitivity = iota
	Insensitive
)

// InheritanceType controls how a node's decision combines with its
// parent's when evaluating a chain, per §4.14.
type InheritanceType int

const (
	LeafNode InheritanceType = iota
	ParentOverrides
	ChildOverrides
	AndBothPermit
)

// Decision is the three-valued outcome of evaluating a single node or a
// chain.
type Decision int

const (
	Indeterminate Decision = iota
	Permit
	Deny
)

// Identity is the (user, groups) pair an authorization check evaluates
// against an Acl chain.
type Identity struct {
	User   Principal
	Groups []Principal
}

func (id Identity) matches(set []Principal, caseSensitive bool) bool {
	for _, p := range set {
		if p.Type == UserPrincipal && p.equal(id.User, caseSensitive) {
			return true
		}
		if p.Type == GroupPrincipal {
			for _, g := range id.Groups {
				if p.equal(g, caseSensitive) {
					return true
				}
			}
		}
	}
	return false
}

// InheritFrom names the parent document (and optional ACL fragment) an
// Acl node inherits from.
type InheritFrom struct {
	DocID    string
	Fragment string
}

// Acl is one node of an inheritance chain.
type Acl struct {
	PermitUsers     []Principal
	DenyUsers       []Principal
	PermitGroups    []Principal
	DenyGroups      []Principal
	InheritFrom     *InheritFrom
	InheritanceType InheritanceType
	CaseSensitivity CaseSensitivity
}

func (a *Acl) caseSensitive() bool { return a.CaseSensitivity == Sensitive }

// decide returns this node's own PERMIT/DENY/INDETERMINATE for identity,
// per §4.14: deny takes priority over permit.
func (a *Acl) decide(id Identity) Decision {
	cs := a.caseSensitive()
	if id.matches(a.DenyUsers, cs) || id.matches(a.DenyGroups, cs) {
		return Deny
	}
	if id.matches(a.PermitUsers, cs) || id.matches(a.PermitGroups, cs) {
		return Permit
	}
	return Indeterminate
}

// combine applies an edge's inheritance type to a parent decision and a
// child decision, per §4.14 Combine.
func combine(parent, child Decision, typ InheritanceType) Decision {
	switch typ {
	case LeafNode:
		return child
	case ParentOverrides:
		if parent != Indeterminate {
			return parent
		}
		return child
	case ChildOverrides:
		if child != Indeterminate {
			return child
		}
		return parent
	case AndBothPermit:
		if parent == Permit && child == Permit {
			return Permit
		}
		if parent != Permit {
			return parent
		}
		return child
	default:
		return Indeterminate
	}
}

// maxChainDepth bounds chain walks so an inheritFrom cycle cannot loop
// forever; exceeding it yields Indeterminate (§9 Design Notes).
const maxChainDepth = 64

// Resolver looks up the Acl for a document id, so Evaluate can walk an
// inheritance chain one inheritFrom hop at a time without the caller
// pre-assembling the whole chain.
type Resolver func(docID, fragment string) (*Acl, bool)

// Evaluate walks the chain starting at root's Acl down to its leaf
// (following InheritFrom, resolved via resolve) and returns the combined
// decision for identity, per §4.14. A chain longer than maxChainDepth, or
// a broken inheritFrom target, yields Indeterminate.
func Evaluate(root *Acl, identity Identity, resolve Resolver) Decision {
	chain := []*Acl{root}
	cur := root
	for cur.InheritFrom != nil {
		if len(chain) >= maxChainDepth {
			return Indeterminate
		}
		next, ok := resolve(cur.InheritFrom.DocID, cur.InheritFrom.Fragment)
		if !ok {
			return Indeterminate
		}
		chain = append(chain, next)
		cur = next
	}
	return EvaluateChain(chain, identity)
}

// EvaluateChain evaluates an already-assembled chain ordered root-first,
// leaf-last (the order used throughout §3/§4.14's examples).
func EvaluateChain(chain []*Acl, identity Identity) Decision {
	if len(chain) == 0 {
		return Indeterminate
	}
	leaf := chain[len(chain)-1]
	result := leaf.decide(identity)
	for i := len(chain) - 2; i >= 0; i-- {
		parent := chain[i]
		parentDecision := parent.decide(identity)
		// chain[i]'s own InheritanceType describes how it combines with
		// whatever decision emerged from its child subtree.
		result = combine(parentDecision, result, chain[i].InheritanceType)
	}
	return result
}
