package dyc

// VarScopeEntry names a single identifier known in a Scope: a variable, a
// typedef, or an enum constant. Tracked together because C's grammar can't
// tell a typedef name from a variable name apart until lookup (§4.5).
type VarScopeEntry struct {
	Obj       *Obj  // set for variables
	Typedef   *Type // set for typedefs
	EnumTy    *Type // set for enum constants
	EnumVal   int64
}

// TagScopeEntry names a struct/union/enum tag.
type TagScopeEntry struct {
	Ty *Type
}

// Scope is one block scope: C has two parallel namespaces, one for
// variables/typedefs/enum-constants and one for struct/union/enum tags
// (§4.5). Scopes nest via Parent, strictly following block structure.
type Scope struct {
	Parent *Scope
	Vars   *RobinMap[*VarScopeEntry]
	Tags   *RobinMap[*TagScopeEntry]
}

func newScope(parent *Scope) *Scope {
	return &Scope{
		Parent: parent,
		Vars:   NewRobinMap[*VarScopeEntry](LifetimeCompile),
		Tags:   NewRobinMap[*TagScopeEntry](LifetimeCompile),
	}
}

// findVar looks up name in s and its ancestors.
func (s *Scope) findVar(name string) *VarScopeEntry {
	for sc := s; sc != nil; sc = sc.Parent {
		if e, ok := sc.Vars.Get(name); ok {
			return e
		}
	}
	return nil
}

func (s *Scope) findTag(name string) *TagScopeEntry {
	for sc := s; sc != nil; sc = sc.Parent {
		if e, ok := sc.Tags.Get(name); ok {
			return e
		}
	}
	return nil
}

// findVarInCurrent only looks in s itself, used to detect redeclaration
// conflicts within one block.
func (s *Scope) findVarInCurrent(name string) (*VarScopeEntry, bool) {
	return s.Vars.Get(name)
}
