package partialeval

import (
	"fmt"
	"testing"

	"github.com/speakeasy-api/jvmeval"
)

// testPool is an in-memory constant pool for hand-assembled methods.
type testPool struct {
	constants map[uint16]jvmeval.Constant
	members   map[uint16]jvmeval.MemberRef
	classes   map[uint16]string
}

func newTestPool() *testPool {
	return &testPool{
		constants: make(map[uint16]jvmeval.Constant),
		members:   make(map[uint16]jvmeval.MemberRef),
		classes:   make(map[uint16]string),
	}
}

func (p *testPool) Constant(index uint16) (jvmeval.Constant, error) {
	c, ok := p.constants[index]
	if !ok {
		return jvmeval.Constant{}, fmt.Errorf("no constant at #%d", index)
	}
	return c, nil
}

func (p *testPool) MemberRef(index uint16) (jvmeval.MemberRef, error) {
	r, ok := p.members[index]
	if !ok {
		return jvmeval.MemberRef{}, fmt.Errorf("no member reference at #%d", index)
	}
	return r, nil
}

func (p *testPool) ClassName(index uint16) (string, error) {
	n, ok := p.classes[index]
	if !ok {
		return "", fmt.Errorf("no class at #%d", index)
	}
	return n, nil
}

// staticMethod assembles a static method of class test/Sample.
func staticMethod(t *testing.T, name, desc string, maxStack, maxLocals int, a *jvmeval.Assembler) *jvmeval.Method {
	t.Helper()
	code, err := a.Bytes()
	if err != nil {
		t.Fatalf("Failed to assemble %s: %v", name, err)
	}
	decoded, err := jvmeval.Decode(code)
	if err != nil {
		t.Fatalf("Failed to decode %s: %v", name, err)
	}
	return &jvmeval.Method{
		Class:       "test/Sample",
		Name:        name,
		Descriptor:  desc,
		AccessFlags: jvmeval.AccPublic | jvmeval.AccStatic,
		MaxStack:    maxStack,
		MaxLocals:   maxLocals,
		Code:        decoded,
		Pool:        newTestPool(),
	}
}

// evaluate runs m with opts and fails the test on error.
func evaluate(t *testing.T, m *jvmeval.Method, opts Options) *Table {
	t.Helper()
	p, err := NewPartialEvaluator(opts)
	if err != nil {
		t.Fatalf("NewPartialEvaluator failed: %v", err)
	}
	table, err := p.Evaluate(m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return table
}

// offsetOf returns the offset of the n-th (0-based) instruction with op.
func offsetOf(t *testing.T, m *jvmeval.Method, op jvmeval.Opcode, n int) int {
	t.Helper()
	for _, ins := range m.Code.Instructions() {
		if ins.Opcode() == op {
			if n == 0 {
				return ins.Offset()
			}
			n--
		}
	}
	t.Fatalf("No %s instruction in %s", op, m.Name)
	return -1
}

// staticHierarchy is a fixed superclass map.
type staticHierarchy map[string]string

func (h staticHierarchy) SuperClass(name string) (string, bool) {
	if name == "java/lang/Object" {
		return "", true
	}
	s, ok := h[name]
	return s, ok
}
