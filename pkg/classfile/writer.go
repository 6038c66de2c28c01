package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
)

// byteWriter accumulates big-endian class-file data.
type byteWriter struct {
	buf bytes.Buffer
}

func (w *byteWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *byteWriter) u16(v uint16) {
	w.buf.Write(binary.BigEndian.AppendUint16(nil, v))
}

func (w *byteWriter) u32(v uint32) {
	w.buf.Write(binary.BigEndian.AppendUint32(nil, v))
}

func (w *byteWriter) bytes(b []byte) { w.buf.Write(b) }

// WriteTo serializes the class file.
func (cf *ClassFile) WriteTo(out io.Writer) (int64, error) {
	w := &byteWriter{}
	w.u32(Magic)
	w.u16(cf.MinorVersion)
	w.u16(cf.MajorVersion)

	w.u16(uint16(len(cf.Pool)))
	for i := 1; i < len(cf.Pool); i++ {
		e := cf.Pool[i]
		if e == nil {
			continue
		}
		if err := writeEntry(w, e); err != nil {
			return 0, fmt.Errorf("writing constant pool entry %d: %w", i, err)
		}
	}

	w.u16(cf.AccessFlags)
	w.u16(cf.ThisClass)
	w.u16(cf.SuperClass)
	w.u16(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.u16(i)
	}

	w.u16(uint16(len(cf.Fields)))
	for _, f := range cf.Fields {
		w.u16(f.AccessFlags)
		w.u16(f.nameIndex)
		w.u16(f.descriptorIndex)
		writeAttributes(w, f.Attributes)
	}
	w.u16(uint16(len(cf.Methods)))
	for _, m := range cf.Methods {
		w.u16(m.AccessFlags)
		w.u16(m.nameIndex)
		w.u16(m.descriptorIndex)
		writeAttributes(w, m.Attributes)
	}
	writeAttributes(w, cf.Attributes)

	n, err := out.Write(w.buf.Bytes())
	return int64(n), err
}

// Bytes serializes the class file into a new slice.
func (cf *ClassFile) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := cf.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(w *byteWriter, e Entry) error {
	w.u8(e.Tag())
	switch c := e.(type) {
	case *Utf8:
		b := encodeModifiedUTF8(c.Value)
		if len(b) > math.MaxUint16 {
			return fmt.Errorf("string of %d bytes is too long", len(b))
		}
		w.u16(uint16(len(b)))
		w.bytes(b)
	case *Integer:
		w.u32(uint32(c.Value))
	case *Float:
		w.u32(math.Float32bits(c.Value))
	case *Long:
		w.u32(uint32(uint64(c.Value) >> 32))
		w.u32(uint32(c.Value))
	case *Double:
		bits := math.Float64bits(c.Value)
		w.u32(uint32(bits >> 32))
		w.u32(uint32(bits))
	case *Class:
		w.u16(c.NameIndex)
	case *String:
		w.u16(c.StringIndex)
	case *MemberEntry:
		w.u16(c.ClassIndex)
		w.u16(c.NameAndTypeIndex)
	case *NameAndType:
		w.u16(c.NameIndex)
		w.u16(c.DescriptorIndex)
	case *MethodHandle:
		w.u8(c.ReferenceKind)
		w.u16(c.ReferenceIndex)
	case *MethodType:
		w.u16(c.DescriptorIndex)
	case *DynamicEntry:
		w.u16(c.BootstrapIndex)
		w.u16(c.NameAndTypeIndex)
	case *NamedEntry:
		w.u16(c.NameIndex)
	default:
		return fmt.Errorf("unsupported entry %T", e)
	}
	return nil
}

func writeAttributes(w *byteWriter, attrs []AttributeInfo) {
	w.u16(uint16(len(attrs)))
	for _, a := range attrs {
		w.u16(a.nameIndex)
		w.u32(uint32(len(a.Data)))
		w.bytes(a.Data)
	}
}

// encodeCode produces the body of a Code attribute.
func encodeCode(c *CodeAttribute) []byte {
	w := &byteWriter{}
	w.u16(c.MaxStack)
	w.u16(c.MaxLocals)
	w.u32(uint32(len(c.Code)))
	w.bytes(c.Code)
	w.u16(uint16(len(c.Exceptions)))
	for _, e := range c.Exceptions {
		w.u16(e.StartPC)
		w.u16(e.EndPC)
		w.u16(e.HandlerPC)
		w.u16(e.CatchType)
	}
	writeAttributes(w, c.Attributes)
	return w.buf.Bytes()
}

// encodeModifiedUTF8 is the inverse of decodeModifiedUTF8.
func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 1 && r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		units := []uint16{uint16(r)}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			units = []uint16{uint16(hi), uint16(lo)}
		}
		for _, u := range units {
			if u < 0x800 {
				out = append(out, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
			} else {
				out = append(out, 0xE0|byte(u>>12), 0x80|byte(u>>6&0x3F), 0x80|byte(u&0x3F))
			}
		}
	}
	return out
}
