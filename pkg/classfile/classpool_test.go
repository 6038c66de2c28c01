package classfile

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/speakeasy-api/jvmeval"
	"github.com/speakeasy-api/jvmeval/partialeval"
)

func mustBuild(t *testing.T, b *Builder) *ClassFile {
	t.Helper()
	cf, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return cf
}

func animals(t *testing.T) *ClassPool {
	t.Helper()
	pool := NewClassPool()
	for _, c := range []struct{ name, super string }{
		{"demo/Animal", "java/lang/Object"},
		{"demo/Dog", "demo/Animal"},
		{"demo/Cat", "demo/Animal"},
	} {
		if err := pool.Add(mustBuild(t, NewBuilder(c.name, c.super))); err != nil {
			t.Fatalf("Add(%s) failed: %v", c.name, err)
		}
	}
	return pool
}

func TestClassPool(t *testing.T) {
	pool := animals(t)

	if diff := cmp.Diff([]string{"demo/Animal", "demo/Cat", "demo/Dog"}, pool.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	if err := pool.Add(mustBuild(t, NewBuilder("demo/Dog", "java/lang/Object"))); err == nil {
		t.Error("Expected an error adding a duplicate class")
	}
	if pool.Len() != 3 {
		t.Errorf("Expected 3 classes, got %d", pool.Len())
	}

	tests := []struct {
		name  string
		super string
		ok    bool
	}{
		{"demo/Dog", "demo/Animal", true},
		{"demo/Animal", "java/lang/Object", true},
		{"java/lang/Object", "", true},
		{"demo/Missing", "", false},
	}
	for _, tt := range tests {
		super, ok := pool.SuperClass(tt.name)
		if super != tt.super || ok != tt.ok {
			t.Errorf("SuperClass(%s) = %q, %v; want %q, %v", tt.name, super, ok, tt.super, tt.ok)
		}
	}

	if !pool.IsSubclass("demo/Dog", "demo/Animal") || !pool.IsSubclass("demo/Dog", "java/lang/Object") {
		t.Error("Dog is an Animal and an Object")
	}
	if pool.IsSubclass("demo/Cat", "demo/Dog") || pool.IsSubclass("demo/Missing", "java/lang/Object") {
		t.Error("Unexpected subclass relation")
	}
}

func TestClassPool_ConcurrentReads(t *testing.T) {
	pool := animals(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if super, ok := pool.SuperClass("demo/Cat"); !ok || super != "demo/Animal" {
					t.Errorf("SuperClass(demo/Cat) = %q, %v", super, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestClassPool_JoinsReferences(t *testing.T) {
	pool := animals(t)

	b := NewBuilder("demo/Shelter", "java/lang/Object")
	dog, cat := b.Class("demo/Dog"), b.Class("demo/Cat")
	// 0: iload_0, 1: ifeq 10, 4: new Dog, 7: goto 13, 10: new Cat, 13: areturn
	code := jvmeval.NewAssembler().
		Local(jvmeval.OpIload, 0).
		Jump(jvmeval.OpIfeq, "cat").
		Ref(jvmeval.OpNew, dog).
		Jump(jvmeval.OpGoto, "done").
		Label("cat").Ref(jvmeval.OpNew, cat).
		Label("done").Op(jvmeval.OpAreturn).
		MustBytes()
	b.Method(static, "adopt", "(Z)Ldemo/Animal;", 1, 1, code)
	shelter := mustBuild(t, b)
	if err := pool.Add(shelter); err != nil {
		t.Fatal(err)
	}

	m, err := shelter.Method(shelter.FindMethod("adopt", "(Z)Ldemo/Animal;"))
	if err != nil {
		t.Fatalf("Method failed: %v", err)
	}
	opts := partialeval.DefaultOptions()
	opts.Hierarchy = pool
	table, err := partialeval.Evaluate(m, opts)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	want := partialeval.TypedReference("Ldemo/Animal;", false, true)
	if got, ok := table.StackTop(13, 0); !ok || got != want {
		t.Errorf("Expected %v at the merge, got %v", want, got)
	}
	if got, ok := table.ReturnValue(); !ok || got != want {
		t.Errorf("Expected return value %v, got %v", want, got)
	}

	opts.Hierarchy = nil
	table, err = partialeval.Evaluate(m, opts)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got, _ := table.StackTop(13, 0); got != partialeval.UnknownOf(partialeval.KindReference) {
		t.Errorf("Without a hierarchy the join must be an unknown reference, got %v", got)
	}
}

var _ partialeval.MemberResolver = (*ClassPool)(nil)

// hierarchy builds:
//
//	interface demo/Named { String LABEL = "x"; String name(); }
//	class demo/Base implements Named { static int count; int size; static void reset(); String name(); final int id(); }
//	final class demo/Leaf extends Base { String name(); }
//	class demo/Mid extends Base {}
//	class demo/Refs { a method handle to Base.id }
func hierarchy(t *testing.T) *ClassPool {
	t.Helper()
	ret := jvmeval.NewAssembler().Op(jvmeval.OpReturn).MustBytes()
	areturn := jvmeval.NewAssembler().Op(jvmeval.OpAconstNull, jvmeval.OpAreturn).MustBytes()
	ireturn := jvmeval.NewAssembler().Op(jvmeval.OpIconst0, jvmeval.OpIreturn).MustBytes()

	named := NewBuilder("demo/Named", "java/lang/Object").Access(jvmeval.AccPublic | jvmeval.AccInterface | jvmeval.AccAbstract)
	named.ConstantField(jvmeval.AccPublic, "LABEL", jvmeval.DescString, named.StringConstant("x"))
	named.AbstractMethod(jvmeval.AccPublic|jvmeval.AccAbstract, "name", "()Ljava/lang/String;")

	base := NewBuilder("demo/Base", "java/lang/Object").Implements("demo/Named")
	base.Field(static, "count", "I")
	base.Field(jvmeval.AccPublic, "size", "I")
	base.Method(static, "reset", "()V", 0, 0, ret)
	base.Method(jvmeval.AccPublic, "name", "()Ljava/lang/String;", 1, 1, areturn)
	base.Method(jvmeval.AccPublic|jvmeval.AccFinal, "id", "()I", 1, 1, ireturn)
	base.Method(jvmeval.AccPublic, "<init>", "()V", 0, 1, ret)

	leaf := NewBuilder("demo/Leaf", "demo/Base").Access(jvmeval.AccPublic | jvmeval.AccFinal)
	leaf.Method(jvmeval.AccPublic, "name", "()Ljava/lang/String;", 1, 1, areturn)

	mid := NewBuilder("demo/Mid", "demo/Base")

	refs := NewBuilder("demo/Refs", "java/lang/Object")
	refs.MethodHandle(5, refs.Methodref("demo/Mid", "id", "()I"))

	pool := NewClassPool()
	for _, b := range []*Builder{named, base, leaf, mid, refs} {
		if err := pool.Add(mustBuild(t, b)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	return pool
}

func TestClassPool_ResolveMethod(t *testing.T) {
	pool := hierarchy(t)
	ref := func(class, name, desc string) jvmeval.MemberRef {
		return jvmeval.MemberRef{Class: class, Name: name, Descriptor: desc}
	}

	tests := []struct {
		name  string
		ref   jvmeval.MemberRef
		decl  jvmeval.MemberRef
		exact bool
		ok    bool
	}{
		{"inherited static", ref("demo/Mid", "reset", "()V"), ref("demo/Base", "reset", "()V"), true, true},
		{"overridable", ref("demo/Mid", "name", "()Ljava/lang/String;"), ref("demo/Base", "name", "()Ljava/lang/String;"), false, true},
		{"method of a final class", ref("demo/Leaf", "name", "()Ljava/lang/String;"), ref("demo/Leaf", "name", "()Ljava/lang/String;"), true, true},
		{"constructor", ref("demo/Base", "<init>", "()V"), ref("demo/Base", "<init>", "()V"), true, true},
		{"final but behind a method handle", ref("demo/Base", "id", "()I"), ref("demo/Base", "id", "()I"), false, true},
		{"from a superinterface", ref("demo/Named", "name", "()Ljava/lang/String;"), ref("demo/Named", "name", "()Ljava/lang/String;"), false, true},
		{"outside the pool", ref("java/lang/Math", "abs", "(I)I"), ref("java/lang/Math", "abs", "(I)I"), false, false},
		{"unknown member", ref("demo/Base", "missing", "()V"), ref("demo/Base", "missing", "()V"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl, exact, ok := pool.ResolveMethod(tt.ref)
			if decl != tt.decl || exact != tt.exact || ok != tt.ok {
				t.Errorf("ResolveMethod(%s) = %s, %v, %v; want %s, %v, %v", tt.ref, decl, exact, ok, tt.decl, tt.exact, tt.ok)
			}
		})
	}
}

func TestClassPool_ResolveField(t *testing.T) {
	pool := hierarchy(t)

	decl, initial, ok := pool.ResolveField(jvmeval.MemberRef{Class: "demo/Leaf", Name: "LABEL", Descriptor: jvmeval.DescString})
	if !ok || decl.Class != "demo/Named" {
		t.Fatalf("Expected LABEL to resolve to demo/Named, got %s (%v)", decl, ok)
	}
	if initial == nil || initial.Kind != jvmeval.ConstString || initial.Text != "x" {
		t.Errorf("Expected the ConstantValue \"x\", got %+v", initial)
	}

	decl, initial, ok = pool.ResolveField(jvmeval.MemberRef{Class: "demo/Mid", Name: "count", Descriptor: "I"})
	if !ok || decl.Class != "demo/Base" || initial != nil {
		t.Errorf("Expected count in demo/Base without a ConstantValue, got %s, %+v, %v", decl, initial, ok)
	}
	if _, _, ok := pool.ResolveField(jvmeval.MemberRef{Class: "demo/Base", Name: "count", Descriptor: "J"}); ok {
		t.Error("Fields must match by descriptor as well as name")
	}

	s := partialeval.NewSummaries(nil, pool)
	size := jvmeval.MemberRef{Class: "demo/Leaf", Name: "size", Descriptor: "I"}
	if v, ok := s.Field(size); !ok || v != partialeval.ParticularInt(0) {
		t.Errorf("Expected an unwritten int field to read 0, got %v (%v)", v, ok)
	}
	s.RecordField(size, partialeval.ParticularInt(5))
	if v, _ := s.Field(jvmeval.MemberRef{Class: "demo/Base", Name: "size", Descriptor: "I"}); v.IsParticular() {
		t.Errorf("A field written 5 may still be read as 0, got %v", v)
	}
}

func TestClassPool_AddResetsHandleTargets(t *testing.T) {
	pool := animals(t)
	kennel := NewBuilder("demo/Kennel", "java/lang/Object")
	kennel.Method(static, "open", "()V", 0, 0, jvmeval.NewAssembler().Op(jvmeval.OpReturn).MustBytes())
	if err := pool.Add(mustBuild(t, kennel)); err != nil {
		t.Fatal(err)
	}
	open := jvmeval.MemberRef{Class: "demo/Kennel", Name: "open", Descriptor: "()V"}
	if _, exact, _ := pool.ResolveMethod(open); !exact {
		t.Fatal("Expected a static method without handles to be exact")
	}

	refs := NewBuilder("demo/Door", "java/lang/Object")
	refs.MethodHandle(6, refs.Methodref(open.Class, open.Name, open.Descriptor))
	if err := pool.Add(mustBuild(t, refs)); err != nil {
		t.Fatal(err)
	}
	if _, exact, _ := pool.ResolveMethod(open); exact {
		t.Error("A method handle added later must make the method inexact")
	}
}
