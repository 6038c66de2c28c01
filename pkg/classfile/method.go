package classfile

import (
	"fmt"

	"github.com/speakeasy-api/jvmeval"
)

// Name returns the internal name of this class.
func (cf *ClassFile) Name() string {
	name, err := cf.Pool.ClassName(cf.ThisClass)
	if err != nil {
		return ""
	}
	return name
}

// SuperName returns the internal name of the superclass, or "" for
// java/lang/Object.
func (cf *ClassFile) SuperName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	name, err := cf.Pool.ClassName(cf.SuperClass)
	if err != nil {
		return ""
	}
	return name
}

// InterfaceNames returns the internal names of the direct superinterfaces.
func (cf *ClassFile) InterfaceNames() []string {
	out := make([]string, 0, len(cf.Interfaces))
	for _, i := range cf.Interfaces {
		if name, err := cf.Pool.ClassName(i); err == nil {
			out = append(out, name)
		}
	}
	return out
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindField finds a field by name.
func (cf *ClassFile) FindField(name string) *FieldInfo {
	for i := range cf.Fields {
		if cf.Fields[i].Name == name {
			return &cf.Fields[i]
		}
	}
	return nil
}

// ConstantValue returns the ConstantValue attribute of a static final
// field, resolved against the pool.
func (cf *ClassFile) ConstantValue(f *FieldInfo) (jvmeval.Constant, bool) {
	for _, attr := range f.Attributes {
		if attr.Name != "ConstantValue" || len(attr.Data) != 2 {
			continue
		}
		c, err := cf.Pool.Constant(uint16(attr.Data[0])<<8 | uint16(attr.Data[1]))
		if err != nil {
			return jvmeval.Constant{}, false
		}
		return c, true
	}
	return jvmeval.Constant{}, false
}

// Method converts a method declaration of this class into the form the
// evaluator consumes. The code array is decoded and catch types are
// resolved. Methods without code convert with a nil Code.
func (cf *ClassFile) Method(mi *MethodInfo) (*jvmeval.Method, error) {
	m := &jvmeval.Method{
		Class:       cf.Name(),
		Name:        mi.Name,
		Descriptor:  mi.Descriptor,
		AccessFlags: mi.AccessFlags,
		Pool:        cf.Pool,
	}
	if mi.Code == nil {
		return m, nil
	}
	code, err := jvmeval.Decode(mi.Code.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}
	m.Code = code
	m.MaxStack = int(mi.Code.MaxStack)
	m.MaxLocals = int(mi.Code.MaxLocals)
	for _, e := range mi.Code.Exceptions {
		h := jvmeval.ExceptionHandler{
			Start:   int(e.StartPC),
			End:     int(e.EndPC),
			Handler: int(e.HandlerPC),
		}
		if e.CatchType != 0 {
			if h.CatchType, err = cf.Pool.ClassName(e.CatchType); err != nil {
				return nil, fmt.Errorf("%s: resolving catch type: %w", m, err)
			}
		}
		m.Handlers = append(m.Handlers, h)
	}
	return m, nil
}

// CodeMethods converts every method that has code.
func (cf *ClassFile) CodeMethods() ([]*jvmeval.Method, error) {
	var out []*jvmeval.Method
	for i := range cf.Methods {
		if cf.Methods[i].Code == nil {
			continue
		}
		m, err := cf.Method(&cf.Methods[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
