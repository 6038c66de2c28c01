// Package classfile reads and writes JVM class files and converts their
// methods into the form consumed by the partial evaluator.
package classfile

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// Class file versions
const (
	Magic        = 0xCAFEBABE
	MajorVersion = 52 // Java 8
)

// ClassFile is a parsed .class file.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         Pool
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   []AttributeInfo
}

// Entry is a constant pool entry.
type Entry interface {
	Tag() uint8
}

type Utf8 struct{ Value string }

type Integer struct{ Value int32 }

type Float struct{ Value float32 }

type Long struct{ Value int64 }

type Double struct{ Value float64 }

type Class struct{ NameIndex uint16 }

type String struct{ StringIndex uint16 }

// MemberEntry is a Fieldref, Methodref or InterfaceMethodref.
type MemberEntry struct {
	tag              uint8
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

type NameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

type MethodHandle struct {
	ReferenceKind  uint8
	ReferenceIndex uint16
}

type MethodType struct{ DescriptorIndex uint16 }

// DynamicEntry is a Dynamic or InvokeDynamic entry.
type DynamicEntry struct {
	tag              uint8
	BootstrapIndex   uint16
	NameAndTypeIndex uint16
}

// NamedEntry is a Module or Package entry.
type NamedEntry struct {
	tag       uint8
	NameIndex uint16
}

func (*Utf8) Tag() uint8           { return TagUtf8 }
func (*Integer) Tag() uint8        { return TagInteger }
func (*Float) Tag() uint8          { return TagFloat }
func (*Long) Tag() uint8           { return TagLong }
func (*Double) Tag() uint8         { return TagDouble }
func (*Class) Tag() uint8          { return TagClass }
func (*String) Tag() uint8         { return TagString }
func (e *MemberEntry) Tag() uint8  { return e.tag }
func (*NameAndType) Tag() uint8    { return TagNameAndType }
func (*MethodHandle) Tag() uint8   { return TagMethodHandle }
func (*MethodType) Tag() uint8     { return TagMethodType }
func (e *DynamicEntry) Tag() uint8 { return e.tag }
func (e *NamedEntry) Tag() uint8   { return e.tag }

// FieldInfo is a field declaration.
type FieldInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo

	nameIndex, descriptorIndex uint16
}

// MethodInfo is a method declaration. Code is nil for abstract and native
// methods.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
	Code        *CodeAttribute

	nameIndex, descriptorIndex uint16
}

// AttributeInfo is a raw attribute.
type AttributeInfo struct {
	Name string
	Data []byte

	nameIndex uint16
}

// ExceptionEntry is a row of a Code attribute's exception table.
type ExceptionEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttribute is the decoded Code attribute of a method.
type CodeAttribute struct {
	MaxStack   uint16
	MaxLocals  uint16
	Code       []byte
	Exceptions []ExceptionEntry
	Attributes []AttributeInfo
}
