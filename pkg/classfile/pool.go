package classfile

import (
	"fmt"

	"github.com/speakeasy-api/jvmeval"
)

// Pool is a constant pool. It is 1-indexed: index 0 and the slot after
// each Long or Double are nil.
type Pool []Entry

var _ jvmeval.ConstantPool = Pool(nil)

func (p Pool) entry(index uint16) (Entry, error) {
	if int(index) >= len(p) || p[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	return p[index], nil
}

// Utf8 returns the string at index.
func (p Pool) Utf8(index uint16) (string, error) {
	e, err := p.entry(index)
	if err != nil {
		return "", err
	}
	u, ok := e.(*Utf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, e.Tag())
	}
	return u.Value, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p Pool) ClassName(index uint16) (string, error) {
	e, err := p.entry(index)
	if err != nil {
		return "", err
	}
	c, ok := e.(*Class)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class (tag=%d)", index, e.Tag())
	}
	return p.Utf8(c.NameIndex)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p Pool) NameAndType(index uint16) (name, descriptor string, err error) {
	e, err := p.entry(index)
	if err != nil {
		return "", "", err
	}
	nat, ok := e.(*NameAndType)
	if !ok {
		return "", "", fmt.Errorf("constant pool index %d is not NameAndType (tag=%d)", index, e.Tag())
	}
	if name, err = p.Utf8(nat.NameIndex); err != nil {
		return "", "", fmt.Errorf("resolving name: %w", err)
	}
	if descriptor, err = p.Utf8(nat.DescriptorIndex); err != nil {
		return "", "", fmt.Errorf("resolving descriptor: %w", err)
	}
	return name, descriptor, nil
}

// MemberRef resolves a Fieldref, Methodref, InterfaceMethodref or
// InvokeDynamic entry. Call sites of invokedynamic have no class.
func (p Pool) MemberRef(index uint16) (jvmeval.MemberRef, error) {
	e, err := p.entry(index)
	if err != nil {
		return jvmeval.MemberRef{}, err
	}
	switch m := e.(type) {
	case *MemberEntry:
		class, err := p.ClassName(m.ClassIndex)
		if err != nil {
			return jvmeval.MemberRef{}, fmt.Errorf("resolving member class: %w", err)
		}
		name, desc, err := p.NameAndType(m.NameAndTypeIndex)
		if err != nil {
			return jvmeval.MemberRef{}, err
		}
		return jvmeval.MemberRef{Class: class, Name: name, Descriptor: desc}, nil
	case *DynamicEntry:
		if m.tag != TagInvokeDynamic {
			break
		}
		name, desc, err := p.NameAndType(m.NameAndTypeIndex)
		if err != nil {
			return jvmeval.MemberRef{}, err
		}
		return jvmeval.MemberRef{Name: name, Descriptor: desc}, nil
	}
	return jvmeval.MemberRef{}, fmt.Errorf("constant pool index %d is not a member reference (tag=%d)", index, e.Tag())
}

// Constant resolves the operand of ldc, ldc_w or ldc2_w.
func (p Pool) Constant(index uint16) (jvmeval.Constant, error) {
	e, err := p.entry(index)
	if err != nil {
		return jvmeval.Constant{}, err
	}
	switch c := e.(type) {
	case *Integer:
		return jvmeval.Constant{Kind: jvmeval.ConstInt, Int: c.Value}, nil
	case *Float:
		return jvmeval.Constant{Kind: jvmeval.ConstFloat, Float: c.Value}, nil
	case *Long:
		return jvmeval.Constant{Kind: jvmeval.ConstLong, Long: c.Value}, nil
	case *Double:
		return jvmeval.Constant{Kind: jvmeval.ConstDouble, Double: c.Value}, nil
	case *String:
		s, err := p.Utf8(c.StringIndex)
		if err != nil {
			return jvmeval.Constant{}, fmt.Errorf("resolving string constant: %w", err)
		}
		return jvmeval.Constant{Kind: jvmeval.ConstString, Text: s}, nil
	case *Class:
		name, err := p.Utf8(c.NameIndex)
		if err != nil {
			return jvmeval.Constant{}, fmt.Errorf("resolving class constant: %w", err)
		}
		return jvmeval.Constant{Kind: jvmeval.ConstClass, Text: name}, nil
	case *MethodType:
		desc, err := p.Utf8(c.DescriptorIndex)
		if err != nil {
			return jvmeval.Constant{}, fmt.Errorf("resolving method type: %w", err)
		}
		return jvmeval.Constant{Kind: jvmeval.ConstMethodType, Text: desc}, nil
	case *MethodHandle:
		ref, err := p.MemberRef(c.ReferenceIndex)
		if err != nil {
			return jvmeval.Constant{}, fmt.Errorf("resolving method handle: %w", err)
		}
		return jvmeval.Constant{Kind: jvmeval.ConstMethodHandle, Text: ref.String()}, nil
	case *DynamicEntry:
		if c.tag != TagDynamic {
			break
		}
		_, desc, err := p.NameAndType(c.NameAndTypeIndex)
		if err != nil {
			return jvmeval.Constant{}, err
		}
		return jvmeval.Constant{Kind: jvmeval.ConstDynamic, Text: desc}, nil
	}
	return jvmeval.Constant{}, fmt.Errorf("constant pool index %d is not loadable (tag=%d)", index, e.Tag())
}
