package dyc

import "testing"

func TestMapHostLookup(t *testing.T) {
	lookup := MapHostLookup(map[string]uintptr{"printf": 0x1000})
	if addr, ok := lookup("printf"); !ok || addr != 0x1000 {
		t.Fatalf("lookup(printf) = (%x, %v), want (0x1000, true)", addr, ok)
	}
	if _, ok := lookup("missing"); ok {
		t.Fatalf("lookup(missing) unexpectedly succeeded")
	}
}

func TestChainHostLookupsFallsThrough(t *testing.T) {
	first := MapHostLookup(map[string]uintptr{"a": 1})
	second := MapHostLookup(map[string]uintptr{"b": 2})
	chained := ChainHostLookups(first, nil, second)

	if addr, ok := chained("a"); !ok || addr != 1 {
		t.Errorf("chained(a) = (%v, %v), want (1, true)", addr, ok)
	}
	if addr, ok := chained("b"); !ok || addr != 2 {
		t.Errorf("chained(b) = (%v, %v), want (2, true)", addr, ok)
	}
	if _, ok := chained("c"); ok {
		t.Errorf("chained(c) unexpectedly succeeded")
	}
}

func TestFuncHostLookupSkipsNonFunctions(t *testing.T) {
	lookup := FuncHostLookup(map[string]interface{}{
		"real":    func() {},
		"bad":     42,
		"nilFunc": (func())(nil),
	})
	if _, ok := lookup("real"); !ok {
		t.Errorf("lookup(real) should resolve a real function value")
	}
	if _, ok := lookup("bad"); ok {
		t.Errorf("lookup(bad) should skip a non-function value")
	}
	if _, ok := lookup("nilFunc"); ok {
		t.Errorf("lookup(nilFunc) should skip a nil function value")
	}
}
