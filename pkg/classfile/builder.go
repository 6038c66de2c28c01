package classfile

import (
	"fmt"
	"math"

	"github.com/speakeasy-api/jvmeval"
)

// Builder assembles a class file in memory. Constant pool entries are
// deduplicated; every add method returns the entry's index.
//
// Example:
//
//	b := classfile.NewBuilder("demo/Calc", "java/lang/Object")
//	b.Method(jvmeval.AccPublic|jvmeval.AccStatic, "two", "()I", 2, 0,
//		jvmeval.NewAssembler().Op(jvmeval.OpIconst1, jvmeval.OpIconst1, jvmeval.OpIadd, jvmeval.OpIreturn).MustBytes())
//	cf, err := b.Build()
type Builder struct {
	cf    *ClassFile
	index map[string]uint16
	err   error
}

// NewBuilder starts a public class. super may be empty only for
// java/lang/Object.
func NewBuilder(name, super string) *Builder {
	b := &Builder{
		cf: &ClassFile{
			MajorVersion: MajorVersion,
			Pool:         Pool{nil},
			AccessFlags:  jvmeval.AccPublic | accSuper,
		},
		index: make(map[string]uint16),
	}
	b.cf.ThisClass = b.Class(name)
	if super != "" {
		b.cf.SuperClass = b.Class(super)
	}
	return b
}

const accSuper = 0x0020

func (b *Builder) add(key string, e Entry) uint16 {
	if i, ok := b.index[key]; ok {
		return i
	}
	i := len(b.cf.Pool)
	if i > math.MaxUint16-2 {
		if b.err == nil {
			b.err = fmt.Errorf("constant pool overflow")
		}
		return 0
	}
	b.cf.Pool = append(b.cf.Pool, e)
	if e.Tag() == TagLong || e.Tag() == TagDouble {
		b.cf.Pool = append(b.cf.Pool, nil)
	}
	b.index[key] = uint16(i)
	return uint16(i)
}

// Access replaces the class access flags.
func (b *Builder) Access(flags uint16) *Builder {
	b.cf.AccessFlags = flags
	return b
}

// Implements adds a superinterface.
func (b *Builder) Implements(name string) *Builder {
	b.cf.Interfaces = append(b.cf.Interfaces, b.Class(name))
	return b
}

func (b *Builder) Utf8(s string) uint16 {
	return b.add("utf8:"+s, &Utf8{Value: s})
}

func (b *Builder) Class(name string) uint16 {
	return b.add("class:"+name, &Class{NameIndex: b.Utf8(name)})
}

func (b *Builder) StringConstant(s string) uint16 {
	return b.add("string:"+s, &String{StringIndex: b.Utf8(s)})
}

func (b *Builder) Int(v int32) uint16 {
	return b.add(fmt.Sprintf("int:%d", v), &Integer{Value: v})
}

func (b *Builder) Float(v float32) uint16 {
	return b.add(fmt.Sprintf("float:%08x", math.Float32bits(v)), &Float{Value: v})
}

func (b *Builder) Long(v int64) uint16 {
	return b.add(fmt.Sprintf("long:%d", v), &Long{Value: v})
}

func (b *Builder) Double(v float64) uint16 {
	return b.add(fmt.Sprintf("double:%016x", math.Float64bits(v)), &Double{Value: v})
}

func (b *Builder) NameAndType(name, desc string) uint16 {
	return b.add("nat:"+name+":"+desc, &NameAndType{NameIndex: b.Utf8(name), DescriptorIndex: b.Utf8(desc)})
}

func (b *Builder) member(tag uint8, class, name, desc string) uint16 {
	key := fmt.Sprintf("member%d:%s.%s:%s", tag, class, name, desc)
	return b.add(key, &MemberEntry{tag: tag, ClassIndex: b.Class(class), NameAndTypeIndex: b.NameAndType(name, desc)})
}

func (b *Builder) Fieldref(class, name, desc string) uint16 {
	return b.member(TagFieldref, class, name, desc)
}

func (b *Builder) Methodref(class, name, desc string) uint16 {
	return b.member(TagMethodref, class, name, desc)
}

func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.member(TagInterfaceMethodref, class, name, desc)
}

func (b *Builder) MethodType(desc string) uint16 {
	return b.add("mtype:"+desc, &MethodType{DescriptorIndex: b.Utf8(desc)})
}

// MethodHandle adds a handle of the given reference kind (1-9) to a member
// entry.
func (b *Builder) MethodHandle(kind uint8, ref uint16) uint16 {
	return b.add(fmt.Sprintf("mhandle:%d:%d", kind, ref), &MethodHandle{ReferenceKind: kind, ReferenceIndex: ref})
}

// InvokeDynamic adds a call site entry. bootstrap indexes the class's
// BootstrapMethods attribute, which the builder does not write.
func (b *Builder) InvokeDynamic(bootstrap uint16, name, desc string) uint16 {
	key := fmt.Sprintf("indy:%d:%s:%s", bootstrap, name, desc)
	return b.add(key, &DynamicEntry{tag: TagInvokeDynamic, BootstrapIndex: bootstrap, NameAndTypeIndex: b.NameAndType(name, desc)})
}

// Dynamic adds a dynamically computed constant.
func (b *Builder) Dynamic(bootstrap uint16, name, desc string) uint16 {
	key := fmt.Sprintf("condy:%d:%s:%s", bootstrap, name, desc)
	return b.add(key, &DynamicEntry{tag: TagDynamic, BootstrapIndex: bootstrap, NameAndTypeIndex: b.NameAndType(name, desc)})
}

func (b *Builder) attribute(name string, data []byte) AttributeInfo {
	return AttributeInfo{Name: name, Data: data, nameIndex: b.Utf8(name)}
}

// Field declares a field.
func (b *Builder) Field(access uint16, name, desc string) *Builder {
	b.cf.Fields = append(b.cf.Fields, FieldInfo{
		AccessFlags:     access,
		Name:            name,
		Descriptor:      desc,
		nameIndex:       b.Utf8(name),
		descriptorIndex: b.Utf8(desc),
	})
	return b
}

// ConstantField declares a static final field with a ConstantValue
// attribute pointing at the pool entry value.
func (b *Builder) ConstantField(access uint16, name, desc string, value uint16) *Builder {
	b.Field(access|jvmeval.AccStatic|jvmeval.AccFinal, name, desc)
	f := &b.cf.Fields[len(b.cf.Fields)-1]
	f.Attributes = append(f.Attributes, b.attribute("ConstantValue", []byte{byte(value >> 8), byte(value)}))
	return b
}

// AbstractMethod declares a method without code.
func (b *Builder) AbstractMethod(access uint16, name, desc string) *Builder {
	b.cf.Methods = append(b.cf.Methods, MethodInfo{
		AccessFlags:     access,
		Name:            name,
		Descriptor:      desc,
		nameIndex:       b.Utf8(name),
		descriptorIndex: b.Utf8(desc),
	})
	return b
}

// Method declares a method with a Code attribute. Catch types of handlers
// are added to the pool; an empty CatchType catches everything.
func (b *Builder) Method(access uint16, name, desc string, maxStack, maxLocals int, code []byte, handlers ...jvmeval.ExceptionHandler) *Builder {
	if maxStack > math.MaxUint16 || maxLocals > math.MaxUint16 || maxStack < 0 || maxLocals < 0 {
		if b.err == nil {
			b.err = fmt.Errorf("method %s%s: frame size out of range", name, desc)
		}
		return b
	}
	c := &CodeAttribute{
		MaxStack:  uint16(maxStack),
		MaxLocals: uint16(maxLocals),
		Code:      code,
	}
	for _, h := range handlers {
		e := ExceptionEntry{StartPC: uint16(h.Start), EndPC: uint16(h.End), HandlerPC: uint16(h.Handler)}
		if h.CatchType != "" {
			e.CatchType = b.Class(h.CatchType)
		}
		c.Exceptions = append(c.Exceptions, e)
	}
	b.AbstractMethod(access, name, desc)
	m := &b.cf.Methods[len(b.cf.Methods)-1]
	m.Code = c
	m.Attributes = append(m.Attributes, b.attribute("Code", encodeCode(c)))
	return b
}

// ClassFile returns the class under construction. It shares storage with
// the builder.
func (b *Builder) ClassFile() (*ClassFile, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.cf, nil
}

// Bytes serializes the class.
func (b *Builder) Bytes() ([]byte, error) {
	cf, err := b.ClassFile()
	if err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// Build serializes the class and parses it back, so the result is exactly
// what a reader of the bytes would see.
func (b *Builder) Build() (*ClassFile, error) {
	data, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}
