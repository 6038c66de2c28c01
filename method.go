package jvmeval

import "fmt"

// Access flags used by the analysis.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccEnum      = 0x4000
)

// ExceptionHandler is one entry of a method's exception table. Start is
// inclusive and End exclusive. An empty CatchType catches everything.
type ExceptionHandler struct {
	Start     int
	End       int
	Handler   int
	CatchType string
}

// Covers reports whether offset lies in the protected range.
func (h ExceptionHandler) Covers(offset int) bool {
	return offset >= h.Start && offset < h.End
}

// MemberRef identifies a field or method. For invokedynamic call sites
// Class is empty and Name is the bootstrap-provided method name.
type MemberRef struct {
	Class      string
	Name       string
	Descriptor string
}

func (r MemberRef) String() string {
	if r.Class == "" {
		return r.Name + ":" + r.Descriptor
	}
	return r.Class + "." + r.Name + ":" + r.Descriptor
}

// ConstantKind classifies loadable constant pool entries.
type ConstantKind uint8

const (
	ConstInt ConstantKind = iota + 1
	ConstFloat
	ConstLong
	ConstDouble
	ConstString
	ConstClass
	ConstMethodType
	ConstMethodHandle
	ConstDynamic
)

func (k ConstantKind) String() string {
	switch k {
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstLong:
		return "long"
	case ConstDouble:
		return "double"
	case ConstString:
		return "String"
	case ConstClass:
		return "Class"
	case ConstMethodType:
		return "MethodType"
	case ConstMethodHandle:
		return "MethodHandle"
	case ConstDynamic:
		return "Dynamic"
	}
	return "invalid"
}

// Constant is the resolved operand of an ldc instruction. Text holds the
// string value, the class internal name, the method type descriptor, or
// the field descriptor of a dynamic constant.
type Constant struct {
	Kind   ConstantKind
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Text   string
}

// ConstantPool resolves the constant pool indices that instructions refer
// to. Implementations must be safe for concurrent reads.
type ConstantPool interface {
	Constant(index uint16) (Constant, error)
	MemberRef(index uint16) (MemberRef, error)
	ClassName(index uint16) (string, error)
}

// Method is a method body as seen by the evaluator.
type Method struct {
	Class       string
	Name        string
	Descriptor  string
	AccessFlags uint16
	MaxStack    int
	MaxLocals   int
	Code        *Code
	Handlers    []ExceptionHandler
	Pool        ConstantPool
}

// IsStatic reports whether the method has no receiver.
func (m *Method) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// Ref returns the member reference naming this method.
func (m *Method) Ref() MemberRef {
	return MemberRef{Class: m.Class, Name: m.Name, Descriptor: m.Descriptor}
}

func (m *Method) String() string {
	return fmt.Sprintf("%s.%s%s", m.Class, m.Name, m.Descriptor)
}
