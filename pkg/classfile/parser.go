package classfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf16"
)

// reader wraps binary.Read with a sticky error so that a sequence of reads
// can be checked once.
type reader struct {
	r   io.Reader
	err error
}

func (r *reader) read(v any) {
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, v)
	}
}

func (r *reader) u8() uint8 {
	var v uint8
	r.read(&v)
	return v
}

func (r *reader) u16() uint16 {
	var v uint16
	r.read(&v)
	return v
}

func (r *reader) u32() uint32 {
	var v uint32
	r.read(&v)
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r.r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return nil
	}
	return buf.Bytes()
}

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cf, err := Parse(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}

// ParseBytes parses a class file held in memory.
func ParseBytes(data []byte) (*ClassFile, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads a .class file from r.
func Parse(r io.Reader) (*ClassFile, error) {
	in := &reader{r: r}
	cf := &ClassFile{}

	magic := in.u32()
	if in.err != nil {
		return nil, fmt.Errorf("reading magic number: %w", in.err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}
	cf.MinorVersion = in.u16()
	cf.MajorVersion = in.u16()
	count := in.u16()
	if in.err != nil {
		return nil, fmt.Errorf("reading header: %w", in.err)
	}

	pool, err := parsePool(in, count)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.Pool = pool

	cf.AccessFlags = in.u16()
	cf.ThisClass = in.u16()
	cf.SuperClass = in.u16()
	cf.Interfaces = make([]uint16, in.u16())
	for i := range cf.Interfaces {
		cf.Interfaces[i] = in.u16()
	}
	if in.err != nil {
		return nil, fmt.Errorf("reading class header: %w", in.err)
	}
	if _, err := pool.ClassName(cf.ThisClass); err != nil {
		return nil, fmt.Errorf("resolving this_class: %w", err)
	}

	cf.Fields = make([]FieldInfo, in.u16())
	for i := range cf.Fields {
		f := &cf.Fields[i]
		f.AccessFlags = in.u16()
		f.nameIndex, f.descriptorIndex = in.u16(), in.u16()
		if in.err != nil {
			return nil, fmt.Errorf("reading field %d: %w", i, in.err)
		}
		if f.Name, f.Descriptor, err = pool.member(f.nameIndex, f.descriptorIndex); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if f.Attributes, err = parseAttributes(in, pool); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}

	cf.Methods = make([]MethodInfo, in.u16())
	for i := range cf.Methods {
		m := &cf.Methods[i]
		m.AccessFlags = in.u16()
		m.nameIndex, m.descriptorIndex = in.u16(), in.u16()
		if in.err != nil {
			return nil, fmt.Errorf("reading method %d: %w", i, in.err)
		}
		if m.Name, m.Descriptor, err = pool.member(m.nameIndex, m.descriptorIndex); err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		if m.Attributes, err = parseAttributes(in, pool); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
		}
		for _, attr := range m.Attributes {
			if attr.Name != "Code" {
				continue
			}
			if m.Code, err = parseCode(attr.Data, pool); err != nil {
				return nil, fmt.Errorf("parsing Code attribute for method %s%s: %w", m.Name, m.Descriptor, err)
			}
			break
		}
	}

	if cf.Attributes, err = parseAttributes(in, pool); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}
	return cf, nil
}

// member resolves the name and descriptor indices of a field or method.
func (p Pool) member(nameIndex, descIndex uint16) (string, string, error) {
	name, err := p.Utf8(nameIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	desc, err := p.Utf8(descIndex)
	if err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, desc, nil
}

func parsePool(in *reader, count uint16) (Pool, error) {
	if count == 0 {
		return nil, fmt.Errorf("constant pool count is zero")
	}
	pool := make(Pool, count)
	for i := 1; i < int(count); i++ {
		tag := in.u8()
		switch tag {
		case TagUtf8:
			pool[i] = &Utf8{Value: decodeModifiedUTF8(in.bytes(int(in.u16())))}
		case TagInteger:
			pool[i] = &Integer{Value: int32(in.u32())}
		case TagFloat:
			pool[i] = &Float{Value: math.Float32frombits(in.u32())}
		case TagLong, TagDouble:
			if i+1 >= int(count) {
				return nil, fmt.Errorf("long or double constant at last index %d", i)
			}
			hi, lo := in.u32(), in.u32()
			bits := uint64(hi)<<32 | uint64(lo)
			if tag == TagLong {
				pool[i] = &Long{Value: int64(bits)}
			} else {
				pool[i] = &Double{Value: math.Float64frombits(bits)}
			}
			i++ // takes two slots
		case TagClass:
			pool[i] = &Class{NameIndex: in.u16()}
		case TagString:
			pool[i] = &String{StringIndex: in.u16()}
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			pool[i] = &MemberEntry{tag: tag, ClassIndex: in.u16(), NameAndTypeIndex: in.u16()}
		case TagNameAndType:
			pool[i] = &NameAndType{NameIndex: in.u16(), DescriptorIndex: in.u16()}
		case TagMethodHandle:
			pool[i] = &MethodHandle{ReferenceKind: in.u8(), ReferenceIndex: in.u16()}
		case TagMethodType:
			pool[i] = &MethodType{DescriptorIndex: in.u16()}
		case TagDynamic, TagInvokeDynamic:
			pool[i] = &DynamicEntry{tag: tag, BootstrapIndex: in.u16(), NameAndTypeIndex: in.u16()}
		case TagModule, TagPackage:
			pool[i] = &NamedEntry{tag: tag, NameIndex: in.u16()}
		default:
			if in.err == nil {
				return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
			}
		}
		if in.err != nil {
			return nil, fmt.Errorf("reading entry %d: %w", i, in.err)
		}
	}
	return pool, nil
}

// decodeModifiedUTF8 converts the class-file string encoding to a Go
// string. NUL is stored as 0xC0 0x80 and supplementary characters as
// surrogate pairs, each encoded in three bytes.
func decodeModifiedUTF8(b []byte) string {
	if isASCII(b) {
		return string(b)
	}
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	return string(utf16.Decode(units))
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			return false
		}
	}
	return true
}

func parseAttributes(in *reader, pool Pool) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, in.u16())
	for i := range attrs {
		a := &attrs[i]
		a.nameIndex = in.u16()
		a.Data = in.bytes(int(in.u32()))
		if in.err != nil {
			return nil, fmt.Errorf("reading attribute %d: %w", i, in.err)
		}
		name, err := pool.Utf8(a.nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		a.Name = name
	}
	if in.err != nil {
		return nil, in.err
	}
	return attrs, nil
}

func parseCode(data []byte, pool Pool) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	in := &reader{r: bytes.NewReader(data)}
	code := &CodeAttribute{
		MaxStack:  in.u16(),
		MaxLocals: in.u16(),
	}
	length := in.u32()
	if int64(length) > int64(len(data)-8) {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", length)
	}
	code.Code = in.bytes(int(length))
	code.Exceptions = make([]ExceptionEntry, in.u16())
	for i := range code.Exceptions {
		code.Exceptions[i] = ExceptionEntry{
			StartPC:   in.u16(),
			EndPC:     in.u16(),
			HandlerPC: in.u16(),
			CatchType: in.u16(),
		}
	}
	if in.err != nil {
		return nil, fmt.Errorf("reading exception table: %w", in.err)
	}
	attrs, err := parseAttributes(in, pool)
	if err != nil {
		return nil, fmt.Errorf("parsing Code attributes: %w", err)
	}
	code.Attributes = attrs
	return code, nil
}
