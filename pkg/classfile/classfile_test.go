package classfile

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/speakeasy-api/jvmeval"
)

const static = jvmeval.AccPublic | jvmeval.AccStatic

func sampleBuilder() *Builder {
	b := NewBuilder("demo/Calc", "java/lang/Object")
	b.ConstantField(jvmeval.AccPublic, "LIMIT", "I", b.Int(100000))
	b.Field(jvmeval.AccPrivate, "count", "J")
	b.Method(static, "two", "()I", 2, 0,
		jvmeval.NewAssembler().Op(jvmeval.OpIconst1, jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn).MustBytes())
	// 0: iconst_1, 1: iconst_0, 2: idiv, 3: ireturn, 4: pop, 5: iconst_m1, 6: ireturn
	b.Method(static, "guarded", "()I", 2, 0,
		jvmeval.NewAssembler().
			Op(jvmeval.OpIconst1, jvmeval.OpIconst0, jvmeval.OpIdiv, jvmeval.OpIreturn).
			Op(jvmeval.OpPop, jvmeval.OpIconstM1, jvmeval.OpIreturn).
			MustBytes(),
		jvmeval.ExceptionHandler{Start: 0, End: 4, Handler: 4, CatchType: "java/lang/ArithmeticException"})
	b.AbstractMethod(jvmeval.AccPublic|jvmeval.AccAbstract, "run", "()V")
	return b
}

func TestBuildAndParse(t *testing.T) {
	cf, err := sampleBuilder().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if cf.Name() != "demo/Calc" || cf.SuperName() != "java/lang/Object" {
		t.Errorf("Expected demo/Calc extends java/lang/Object, got %s extends %s", cf.Name(), cf.SuperName())
	}
	if cf.MajorVersion != MajorVersion {
		t.Errorf("Expected major version %d, got %d", MajorVersion, cf.MajorVersion)
	}

	limit := cf.FindField("LIMIT")
	if limit == nil {
		t.Fatal("LIMIT not found")
	}
	if c, ok := cf.ConstantValue(limit); !ok || c.Kind != jvmeval.ConstInt || c.Int != 100000 {
		t.Errorf("Expected LIMIT = 100000, got %+v (%v)", c, ok)
	}
	if _, ok := cf.ConstantValue(cf.FindField("count")); ok {
		t.Error("count has no ConstantValue")
	}

	if run := cf.FindMethod("run", "()V"); run == nil || run.Code != nil {
		t.Errorf("Expected abstract run without code, got %+v", run)
	}

	guarded, err := cf.Method(cf.FindMethod("guarded", "()I"))
	if err != nil {
		t.Fatalf("Method failed: %v", err)
	}
	want := []jvmeval.ExceptionHandler{{Start: 0, End: 4, Handler: 4, CatchType: "java/lang/ArithmeticException"}}
	if diff := cmp.Diff(want, guarded.Handlers); diff != "" {
		t.Errorf("Handlers mismatch (-want +got):\n%s", diff)
	}
	if guarded.MaxStack != 2 || guarded.Code.Size() != 7 || guarded.String() != "demo/Calc.guarded()I" {
		t.Errorf("Unexpected method %s: stack %d, %d bytes", guarded, guarded.MaxStack, guarded.Code.Size())
	}

	methods, err := cf.CodeMethods()
	if err != nil {
		t.Fatalf("CodeMethods failed: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("Expected 2 methods with code, got %d", len(methods))
	}
}

func TestWriteIsStable(t *testing.T) {
	first, err := sampleBuilder().Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	cf, err := ParseBytes(first)
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}
	second, err := cf.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Re-serialized class differs (-first +second):\n%s", diff)
	}
}

func TestPoolResolution(t *testing.T) {
	b := NewBuilder("demo/K", "java/lang/Object")
	i := b.Int(-5)
	if b.Int(-5) != i {
		t.Error("Entries must be deduplicated")
	}
	text := "héllo\x00\U0001F600"
	idx := map[string]uint16{
		"int":       i,
		"float":     b.Float(1.5),
		"long":      b.Long(1 << 40),
		"double":    b.Double(2.25),
		"string":    b.StringConstant(text),
		"class":     b.Class("demo/Other"),
		"mtype":     b.MethodType("(I)V"),
		"methodref": b.Methodref("demo/Other", "run", "(I)V"),
		"fieldref":  b.Fieldref("demo/Other", "x", "J"),
		"iface":     b.InterfaceMethodref("demo/Api", "call", "()V"),
		"indy":      b.InvokeDynamic(0, "apply", "()Ljava/util/function/Function;"),
		"condy":     b.Dynamic(0, "K", "J"),
	}
	idx["mhandle"] = b.MethodHandle(6, idx["methodref"])

	cf, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	pool := cf.Pool

	constants := map[string]jvmeval.Constant{
		"int":     {Kind: jvmeval.ConstInt, Int: -5},
		"float":   {Kind: jvmeval.ConstFloat, Float: 1.5},
		"long":    {Kind: jvmeval.ConstLong, Long: 1 << 40},
		"double":  {Kind: jvmeval.ConstDouble, Double: 2.25},
		"string":  {Kind: jvmeval.ConstString, Text: text},
		"class":   {Kind: jvmeval.ConstClass, Text: "demo/Other"},
		"mtype":   {Kind: jvmeval.ConstMethodType, Text: "(I)V"},
		"mhandle": {Kind: jvmeval.ConstMethodHandle, Text: "demo/Other.run:(I)V"},
		"condy":   {Kind: jvmeval.ConstDynamic, Text: "J"},
	}
	for name, want := range constants {
		got, err := pool.Constant(idx[name])
		if err != nil {
			t.Errorf("Constant(%s) failed: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("Constant(%s) = %+v, want %+v", name, got, want)
		}
	}

	refs := map[string]jvmeval.MemberRef{
		"methodref": {Class: "demo/Other", Name: "run", Descriptor: "(I)V"},
		"fieldref":  {Class: "demo/Other", Name: "x", Descriptor: "J"},
		"iface":     {Class: "demo/Api", Name: "call", Descriptor: "()V"},
		"indy":      {Name: "apply", Descriptor: "()Ljava/util/function/Function;"},
	}
	for name, want := range refs {
		got, err := pool.MemberRef(idx[name])
		if err != nil || got != want {
			t.Errorf("MemberRef(%s) = %+v, %v; want %+v", name, got, err, want)
		}
	}

	if pool[idx["long"]+1] != nil {
		t.Error("The slot after a long must be empty")
	}
	failures := []struct {
		name string
		call func() error
	}{
		{"index zero", func() error { _, err := pool.Constant(0); return err }},
		{"after long", func() error { _, err := pool.Constant(idx["long"] + 1); return err }},
		{"past the end", func() error { _, err := pool.Constant(uint16(len(pool))); return err }},
		{"member as constant", func() error { _, err := pool.Constant(idx["methodref"]); return err }},
		{"int as member", func() error { _, err := pool.MemberRef(idx["int"]); return err }},
		{"condy as member", func() error { _, err := pool.MemberRef(idx["condy"]); return err }},
		{"string as class", func() error { _, err := pool.ClassName(idx["string"]); return err }},
	}
	for _, f := range failures {
		if f.call() == nil {
			t.Errorf("%s: expected an error", f.name)
		}
	}
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"plain", "nul\x00inside", "café", "€", "\U0001F600"} {
		enc := encodeModifiedUTF8(s)
		for _, c := range enc {
			if c == 0 {
				t.Errorf("Encoding of %q contains a zero byte", s)
			}
		}
		if got := decodeModifiedUTF8(enc); got != s {
			t.Errorf("Round trip of %q gave %q", s, got)
		}
	}
	if got := encodeModifiedUTF8("\U0001F600"); len(got) != 6 {
		t.Errorf("Supplementary characters take two 3-byte units, got %d bytes", len(got))
	}
}

func TestParseErrors(t *testing.T) {
	valid, err := sampleBuilder().Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	header := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52}
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "reading magic number"},
		{"bad magic", []byte{0xCA, 0xFE, 0xBA, 0xBF, 0, 0, 0, 52}, "invalid magic number"},
		{"truncated", valid[:len(valid)-1], "class attributes"},
		{"unknown tag", append(append([]byte{}, header...), 0, 2, 2), "unknown constant pool tag 2"},
		{"long at end", append(append([]byte{}, header...), 0, 2, TagLong), "last index 1"},
		{"zero pool", append(append([]byte{}, header...), 0, 0), "count is zero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	data, err := sampleBuilder().Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "Calc.class")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cf, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if cf.Name() != "demo/Calc" {
		t.Errorf("Expected demo/Calc, got %s", cf.Name())
	}
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.class")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestBuilder_FrameSizeOutOfRange(t *testing.T) {
	b := NewBuilder("demo/Big", "java/lang/Object")
	b.Method(static, "huge", "()V", math.MaxUint16+1, 0, []byte{byte(jvmeval.OpReturn)})
	if _, err := b.Build(); err == nil {
		t.Error("Expected an error for an oversized frame")
	}
}
