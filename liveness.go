package dyc

// markLiveFunctions implements dyibicc's static-inline dead-code
// elimination (dyibicc.h's Obj.is_live/is_root/refs comment: "No code is
// emitted for 'static inline' functions if no one is referencing them").
// Every externally visible Obj (IsRoot) is a reachability root; everything
// it transitively references through Refs is marked live. Anything left
// unmarked — an unreferenced static function or static inline — is dropped
// before codegen.
func markLiveFunctions(units []*translationUnit) {
	byName := make(map[string]*Obj)
	var roots []*Obj
	for _, u := range units {
		for _, g := range u.Globals {
			byName[g.Name] = g
			if g.IsRoot {
				roots = append(roots, g)
			}
		}
	}

	var walk func(o *Obj)
	walk = func(o *Obj) {
		if o == nil || o.IsLive {
			return
		}
		o.IsLive = true
		for _, name := range o.Refs {
			if callee, ok := byName[name]; ok {
				walk(callee)
			}
		}
	}
	for _, r := range roots {
		walk(r)
	}
}
