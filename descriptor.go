package jvmeval

import (
	"fmt"
	"strings"
)

// Field descriptors of the primitive types and common classes.
const (
	DescInt     = "I"
	DescLong    = "J"
	DescFloat   = "F"
	DescDouble  = "D"
	DescByte    = "B"
	DescChar    = "C"
	DescShort   = "S"
	DescBoolean = "Z"
	DescVoid    = "V"

	DescObject    = "Ljava/lang/Object;"
	DescString    = "Ljava/lang/String;"
	DescClass     = "Ljava/lang/Class;"
	DescThrowable = "Ljava/lang/Throwable;"

	DescMethodType   = "Ljava/lang/invoke/MethodType;"
	DescMethodHandle = "Ljava/lang/invoke/MethodHandle;"
)

// ParseMethodDescriptor splits a method descriptor such as "(IJ[Ljava/lang/String;)V"
// into its parameter field descriptors and return descriptor.
func ParseMethodDescriptor(desc string) (params []string, ret string, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescriptorLength(desc[i:])
		if err != nil {
			return nil, "", fmt.Errorf("malformed method descriptor %q: %w", desc, err)
		}
		params = append(params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("malformed method descriptor %q: missing ')'", desc)
	}
	ret = desc[i+1:]
	if ret != DescVoid {
		if n, err := fieldDescriptorLength(ret); err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("malformed method descriptor %q: bad return type", desc)
		}
	}
	return params, ret, nil
}

func fieldDescriptorLength(s string) (int, error) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims >= len(s) {
		return 0, fmt.Errorf("truncated array descriptor")
	}
	switch s[dims] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return dims + 1, nil
	case 'L':
		end := strings.IndexByte(s[dims:], ';')
		if end < 0 {
			return 0, fmt.Errorf("unterminated class descriptor")
		}
		return dims + end + 1, nil
	}
	return 0, fmt.Errorf("unexpected descriptor character %q", s[dims])
}

// IsCategory2 reports whether values of the field descriptor occupy two
// slots (long and double).
func IsCategory2(desc string) bool {
	return desc == DescLong || desc == DescDouble
}

// IsReferenceDescriptor reports whether desc names a class or array type.
func IsReferenceDescriptor(desc string) bool {
	return desc != "" && (desc[0] == 'L' || desc[0] == '[')
}

// ParameterSlots returns the number of local variable slots taken by the
// parameters of a method descriptor, excluding any receiver.
func ParameterSlots(desc string) (int, error) {
	params, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range params {
		n++
		if IsCategory2(p) {
			n++
		}
	}
	return n, nil
}

// ClassDescriptor converts an internal class name ("java/lang/String") or
// an array descriptor ("[I") to a field descriptor.
func ClassDescriptor(internalName string) string {
	if internalName == "" {
		return ""
	}
	if internalName[0] == '[' {
		return internalName
	}
	return "L" + internalName + ";"
}

// InternalName converts a class field descriptor back to an internal name.
// Array descriptors are returned unchanged.
func InternalName(desc string) string {
	if len(desc) >= 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// ArrayElement returns the element descriptor of an array descriptor.
func ArrayElement(desc string) (string, bool) {
	if len(desc) < 2 || desc[0] != '[' {
		return "", false
	}
	return desc[1:], true
}

// ArrayOf returns the descriptor of an array with the given element type
// and number of dimensions.
func ArrayOf(elem string, dims int) string {
	return strings.Repeat("[", dims) + elem
}

// PrimitiveArrayDescriptor maps a newarray type code to its array descriptor.
func PrimitiveArrayDescriptor(atype int32) (string, bool) {
	switch atype {
	case 4:
		return "[Z", true
	case 5:
		return "[C", true
	case 6:
		return "[F", true
	case 7:
		return "[D", true
	case 8:
		return "[B", true
	case 9:
		return "[S", true
	case 10:
		return "[I", true
	case 11:
		return "[J", true
	}
	return "", false
}
