package dyc

import "testing"

// e2e_test.go exercises Context end to end (Update, FindExport, CallEntry)
// against the literal-I/O scenarios this compiler must reproduce, rather
// than only unit-testing individual phases in isolation.

func TestE2EReturnConstant(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	result, err := ctx.Update([]LoadedSource{
		{Path: "main.c", Contents: "int main(void){ return 42; }"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	addr, ok := result.Exports["main"]
	if !ok {
		t.Fatalf("main not in UpdateResult.Exports")
	}
	if got, ok := ctx.FindExport("main"); !ok || got != addr {
		t.Fatalf("FindExport(main) = (%x, %v), want (%x, true)", got, ok, addr)
	}
	if got := CallEntry(addr); got != 42 {
		t.Errorf("main() = %d, want 42", got)
	}
}

func TestE2ETwoUnitsIncrementalUpdatePreservesGlobalAddress(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	unit1 := LoadedSource{Path: "g.c", Contents: "int g=1; int get(void){return g;}"}
	unit2 := LoadedSource{Path: "main.c", Contents: "int main(void){return get()+1;}"}

	result, err := ctx.Update([]LoadedSource{unit1, unit2})
	if err != nil {
		t.Fatalf("initial Update failed: %v", err)
	}
	addr, ok := ctx.FindExport("main")
	if !ok {
		t.Fatalf("main not exported")
	}
	if got := CallEntry(addr); got != 2 {
		t.Fatalf("main() = %d, want 2", got)
	}

	gAddrBefore, ok := ctx.link.dataAddr["g"]
	if !ok {
		t.Fatalf("g not in linker data map before update")
	}

	unit1Updated := LoadedSource{Path: "g.c", Contents: "int g=5; int get(void){return g;}"}
	result2, err := ctx.Update([]LoadedSource{unit1Updated, unit2})
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}
	addr2, ok := ctx.FindExport("main")
	if !ok {
		t.Fatalf("main not exported after update")
	}
	if got := CallEntry(addr2); got != 6 {
		t.Fatalf("main() after update = %d, want 6", got)
	}

	gAddrAfter, ok := ctx.link.dataAddr["g"]
	if !ok {
		t.Fatalf("g not in linker data map after update")
	}
	if gAddrBefore != gAddrAfter {
		t.Errorf("address of g changed across update: %x -> %x, want stable", gAddrBefore, gAddrAfter)
	}

	_ = result
	_ = result2
}

func TestE2EStringize(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	src := "#define S(x) #x\n" +
		"const char *str = S(foo bar);\n" +
		"int main(void){ return str[0] == 'f' && str[4] == 'b'; }\n"

	result, err := ctx.Update([]LoadedSource{{Path: "main.c", Contents: src}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	addr, ok := result.Exports["main"]
	if !ok {
		t.Fatalf("main not exported")
	}
	if got := CallEntry(addr); got != 1 {
		t.Errorf("main() = %d, want 1 (stringize produced %q)", got, "\"foo bar\"")
	}
}

func TestE2ETokenPaste(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	src := "#define CAT(a,b) a##b\n" +
		"int CAT(x,1)=7;\n"

	result, err := ctx.Update([]LoadedSource{{Path: "main.c", Contents: src}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	addr, ok := result.Exports["x1"]
	if !ok {
		t.Fatalf("x1 not exported; token paste did not produce the expected global name")
	}
	if ctxAddr, ok := ctx.FindExport("x1"); !ok || ctxAddr != addr {
		t.Errorf("FindExport(x1) = (%x, %v), want (%x, true)", ctxAddr, ok, addr)
	}
}

func TestE2EStructReturnBySysVRegisters(t *testing.T) {
	ctx := NewContext()
	ctx.ABI = ABISysV
	defer ctx.Close()

	src := `
struct pair { double a; double b; };
struct pair make(void) {
	struct pair p;
	p.a = 1.5;
	p.b = 2.5;
	return p;
}
int main(void) {
	struct pair p = make();
	return (int)(p.a + p.b);
}
`
	result, err := ctx.Update([]LoadedSource{{Path: "main.c", Contents: src}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	addr, ok := result.Exports["main"]
	if !ok {
		t.Fatalf("main not exported")
	}
	if got := CallEntry(addr); got != 4 {
		t.Errorf("main() = %d, want 4 (1.5+2.5 truncated)", got)
	}
}

func TestE2EStaticNamesDoNotAliasAcrossUnits(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	unitA := LoadedSource{Path: "a.c", Contents: "static int counter = 10; int geta(void){return counter;}"}
	unitB := LoadedSource{Path: "b.c", Contents: "static int counter = 20; int getb(void){return counter;}"}
	unitMain := LoadedSource{Path: "main.c", Contents: "int geta(void); int getb(void); int main(void){return geta()+getb();}"}

	result, err := ctx.Update([]LoadedSource{unitA, unitB, unitMain})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, ok := result.Exports["counter"]; ok {
		t.Errorf("static counter leaked into public Exports map")
	}

	addr, ok := ctx.FindExport("main")
	if !ok {
		t.Fatalf("main not exported")
	}
	if got := CallEntry(addr); got != 30 {
		t.Errorf("main() = %d, want 30 (10+20, each unit's own static counter)", got)
	}
}
