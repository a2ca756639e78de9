package acl

import "testing"

func TestChainEvaluationAndBothPermit(t *testing.T) {
	root := &Acl{PermitGroups: []Principal{Group("g1", "")}, InheritanceType: AndBothPermit}
	leaf := &Acl{PermitGroups: []Principal{Group("g1", "")}, InheritanceType: LeafNode}
	chain := []*Acl{root, leaf}

	permitted := Identity{User: User("u", ""), Groups: []Principal{Group("g1", "")}}
	if got := EvaluateChain(chain, permitted); got != Permit {
		t.Errorf("expected PERMIT, got %v", got)
	}

	noGroups := Identity{User: User("u", "")}
	if got := EvaluateChain(chain, noGroups); got != Indeterminate {
		t.Errorf("expected INDETERMINATE, got %v", got)
	}
}

func TestDenyOverridesPermitAtSameNode(t *testing.T) {
	node := &Acl{
		PermitUsers:     []Principal{User("alice", "")},
		DenyUsers:       []Principal{User("alice", "")},
		InheritanceType: LeafNode,
	}
	id := Identity{User: User("alice", "")}
	if got := EvaluateChain([]*Acl{node}, id); got != Deny {
		t.Errorf("deny must win over permit at the same node, got %v", got)
	}
}

func TestParentOverridesChild(t *testing.T) {
	root := &Acl{DenyUsers: []Principal{User("bob", "")}, InheritanceType: ParentOverrides}
	leaf := &Acl{PermitUsers: []Principal{User("bob", "")}, InheritanceType: LeafNode}
	id := Identity{User: User("bob", "")}
	if got := EvaluateChain([]*Acl{root, leaf}, id); got != Deny {
		t.Errorf("parent deny should override child permit under PARENT_OVERRIDES, got %v", got)
	}
}

func TestChildOverridesParent(t *testing.T) {
	root := &Acl{DenyUsers: []Principal{User("bob", "")}, InheritanceType: ChildOverrides}
	leaf := &Acl{PermitUsers: []Principal{User("bob", "")}, InheritanceType: LeafNode}
	id := Identity{User: User("bob", "")}
	if got := EvaluateChain([]*Acl{root, leaf}, id); got != Permit {
		t.Errorf("child permit should override parent deny under CHILD_OVERRIDES, got %v", got)
	}
}

func TestCaseSensitivity(t *testing.T) {
	node := &Acl{
		PermitUsers:     []Principal{User("Alice", "")},
		InheritanceType: LeafNode,
		CaseSensitivity: Insensitive,
	}
	id := Identity{User: User("alice", "")}
	if got := EvaluateChain([]*Acl{node}, id); got != Permit {
		t.Errorf("case-insensitive acl should match differently-cased name, got %v", got)
	}

	node.CaseSensitivity = Sensitive
	if got := EvaluateChain([]*Acl{node}, id); got != Indeterminate {
		t.Errorf("case-sensitive acl should not match differently-cased name, got %v", got)
	}
}

func TestBrokenInheritChainYieldsIndeterminate(t *testing.T) {
	root := &Acl{PermitUsers: []Principal{User("u", "")}, InheritanceType: LeafNode, InheritFrom: &InheritFrom{DocID: "missing"}}
	resolve := func(docID, fragment string) (*Acl, bool) { return nil, false }
	if got := Evaluate(root, Identity{User: User("u", "")}, resolve); got != Indeterminate {
		t.Errorf("broken inherit target should yield INDETERMINATE, got %v", got)
	}
}

func TestEvaluationIsDeterministicAndIdempotent(t *testing.T) {
	root := &Acl{PermitGroups: []Principal{Group("g1", "")}, InheritanceType: AndBothPermit}
	leaf := &Acl{PermitGroups: []Principal{Group("g1", "")}, InheritanceType: LeafNode}
	chain := []*Acl{root, leaf}
	id := Identity{User: User("u", ""), Groups: []Principal{Group("g1", "")}}

	first := EvaluateChain(chain, id)
	second := EvaluateChain(chain, id)
	if first != second {
		t.Errorf("evaluation must be idempotent: %v != %v", first, second)
	}
}

func TestCycleBoundedDepthYieldsIndeterminate(t *testing.T) {
	a := &Acl{InheritanceType: LeafNode, InheritFrom: &InheritFrom{DocID: "b"}}
	b := &Acl{InheritanceType: LeafNode, InheritFrom: &InheritFrom{DocID: "a"}}
	resolve := func(docID, fragment string) (*Acl, bool) {
		switch docID {
		case "a":
			return a, true
		case "b":
			return b, true
		}
		return nil, false
	}
	if got := Evaluate(a, Identity{User: User("u", "")}, resolve); got != Indeterminate {
		t.Errorf("cyclic chain should yield INDETERMINATE, got %v", got)
	}
}
