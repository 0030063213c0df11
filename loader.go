package dyc

import "reflect"

// This file supplies the host-symbol-lookup combinators layered on top of
// Context's HostSymbolLookup (§6): small, composable constructors for the
// common ways an embedder supplies external symbol addresses, rather than
// requiring every embedder to hand-write the closure itself.

// MapHostLookup resolves names straight out of a Go map, the simplest
// possible HostSymbolLookup — typically pre-populated with libc or
// embedder-provided addresses obtained however the host process already
// has them (e.g. from a cgo build elsewhere in the embedding program).
func MapHostLookup(symbols map[string]uintptr) HostSymbolLookup {
	return func(name string) (uintptr, bool) {
		addr, ok := symbols[name]
		return addr, ok
	}
}

// ChainHostLookups tries each lookup in order, returning the first hit.
// Useful for layering a fast static map ahead of a slower or more
// permissive fallback (§4.7's resolve order already puts the host lookup
// last among dyc's own buckets; this lets the embedder build its own
// internal ordering within that final bucket).
func ChainHostLookups(lookups ...HostSymbolLookup) HostSymbolLookup {
	return func(name string) (uintptr, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if addr, ok := l(name); ok {
				return addr, true
			}
		}
		return 0, false
	}
}

// FuncHostLookup exposes a table of Go functions as callable external
// symbols, keyed by the C name compiled code will call them under. Every
// value in fns must be a non-nil function; reflect.Value.Pointer is the
// only portable way to get a callable code address for an arbitrary Go
// func value without cgo, so this is necessarily built on reflect rather
// than a third-party FFI layer.
//
// The exposed function must use a calling convention compiled code can
// actually satisfy: a plain Go func value's entry point expects Go's
// internal ABI, not SysV/Win64, so in practice an embedder wraps each
// host function in a small assembly or cgo trampoline before handing it
// here. FuncHostLookup only solves the address-lookup half of that.
func FuncHostLookup(fns map[string]interface{}) HostSymbolLookup {
	addrs := make(map[string]uintptr, len(fns))
	for name, fn := range fns {
		v := reflect.ValueOf(fn)
		if v.Kind() != reflect.Func || v.IsNil() {
			continue
		}
		addrs[name] = v.Pointer()
	}
	return MapHostLookup(addrs)
}
