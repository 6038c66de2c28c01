package partialeval

import (
	"math"

	"github.com/speakeasy-api/jvmeval"
)

// Constant folding with the run-time semantics of the JVM: two's-complement
// wraparound, masked shift distances, saturating float-to-integer
// conversion and NaN-aware comparisons. Division by a constant zero is not
// folded because it throws.

func foldInt(op jvmeval.Opcode, a, b int32) (int32, bool) {
	switch op {
	case jvmeval.OpIadd:
		return a + b, true
	case jvmeval.OpIsub:
		return a - b, true
	case jvmeval.OpImul:
		return a * b, true
	case jvmeval.OpIdiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case jvmeval.OpIrem:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case jvmeval.OpIshl:
		return a << (uint32(b) & 31), true
	case jvmeval.OpIshr:
		return a >> (uint32(b) & 31), true
	case jvmeval.OpIushr:
		return int32(uint32(a) >> (uint32(b) & 31)), true
	case jvmeval.OpIand:
		return a & b, true
	case jvmeval.OpIor:
		return a | b, true
	case jvmeval.OpIxor:
		return a ^ b, true
	}
	return 0, false
}

func foldLong(op jvmeval.Opcode, a, b int64) (int64, bool) {
	switch op {
	case jvmeval.OpLadd:
		return a + b, true
	case jvmeval.OpLsub:
		return a - b, true
	case jvmeval.OpLmul:
		return a * b, true
	case jvmeval.OpLdiv:
		if b == 0 {
			return 0, false
		}
		return a / b, true
	case jvmeval.OpLrem:
		if b == 0 {
			return 0, false
		}
		return a % b, true
	case jvmeval.OpLand:
		return a & b, true
	case jvmeval.OpLor:
		return a | b, true
	case jvmeval.OpLxor:
		return a ^ b, true
	}
	return 0, false
}

func foldLongShift(op jvmeval.Opcode, a int64, b int32) int64 {
	n := uint32(b) & 63
	switch op {
	case jvmeval.OpLshl:
		return a << n
	case jvmeval.OpLshr:
		return a >> n
	default:
		return int64(uint64(a) >> n)
	}
}

func foldFloat(op jvmeval.Opcode, a, b float32) float32 {
	switch op {
	case jvmeval.OpFadd:
		return a + b
	case jvmeval.OpFsub:
		return a - b
	case jvmeval.OpFmul:
		return a * b
	case jvmeval.OpFdiv:
		return a / b
	default:
		return float32(math.Mod(float64(a), float64(b)))
	}
}

func foldDouble(op jvmeval.Opcode, a, b float64) float64 {
	switch op {
	case jvmeval.OpDadd:
		return a + b
	case jvmeval.OpDsub:
		return a - b
	case jvmeval.OpDmul:
		return a * b
	case jvmeval.OpDdiv:
		return a / b
	default:
		return math.Mod(a, b)
	}
}

func floatToInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func floatToInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// convert applies a conversion opcode to a particular value.
func convert(op jvmeval.Opcode, v Value) Value {
	switch op {
	case jvmeval.OpI2l, jvmeval.OpI2f, jvmeval.OpI2d, jvmeval.OpI2b, jvmeval.OpI2c, jvmeval.OpI2s:
		i, _ := v.Int()
		switch op {
		case jvmeval.OpI2l:
			return ParticularLong(int64(i))
		case jvmeval.OpI2f:
			return ParticularFloat(float32(i))
		case jvmeval.OpI2d:
			return ParticularDouble(float64(i))
		case jvmeval.OpI2b:
			return ParticularInt(int32(int8(i)))
		case jvmeval.OpI2c:
			return ParticularInt(int32(uint16(i)))
		default:
			return ParticularInt(int32(int16(i)))
		}
	case jvmeval.OpL2i, jvmeval.OpL2f, jvmeval.OpL2d:
		l, _ := v.Long()
		switch op {
		case jvmeval.OpL2i:
			return ParticularInt(int32(l))
		case jvmeval.OpL2f:
			return ParticularFloat(float32(l))
		default:
			return ParticularDouble(float64(l))
		}
	case jvmeval.OpF2i, jvmeval.OpF2l, jvmeval.OpF2d:
		f, _ := v.Float()
		switch op {
		case jvmeval.OpF2i:
			return ParticularInt(floatToInt32(float64(f)))
		case jvmeval.OpF2l:
			return ParticularLong(floatToInt64(float64(f)))
		default:
			return ParticularDouble(float64(f))
		}
	default:
		d, _ := v.Double()
		switch op {
		case jvmeval.OpD2i:
			return ParticularInt(floatToInt32(d))
		case jvmeval.OpD2l:
			return ParticularLong(floatToInt64(d))
		default:
			return ParticularFloat(float32(d))
		}
	}
}

// conversionKinds returns the operand and result kinds of a conversion.
func conversionKinds(op jvmeval.Opcode) (from, to Kind) {
	switch op {
	case jvmeval.OpI2l:
		return KindInteger, KindLong
	case jvmeval.OpI2f:
		return KindInteger, KindFloat
	case jvmeval.OpI2d:
		return KindInteger, KindDouble
	case jvmeval.OpL2i:
		return KindLong, KindInteger
	case jvmeval.OpL2f:
		return KindLong, KindFloat
	case jvmeval.OpL2d:
		return KindLong, KindDouble
	case jvmeval.OpF2i:
		return KindFloat, KindInteger
	case jvmeval.OpF2l:
		return KindFloat, KindLong
	case jvmeval.OpF2d:
		return KindFloat, KindDouble
	case jvmeval.OpD2i:
		return KindDouble, KindInteger
	case jvmeval.OpD2l:
		return KindDouble, KindLong
	case jvmeval.OpD2f:
		return KindDouble, KindFloat
	}
	return KindInteger, KindInteger // i2b, i2c, i2s
}

func compareFloats(a, b float64, nanResult int32) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return nanResult
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareLongs(a, b int64) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// arithmeticKind returns the operand kind of an arithmetic opcode.
func arithmeticKind(op jvmeval.Opcode) Kind {
	switch op {
	case jvmeval.OpIadd, jvmeval.OpIsub, jvmeval.OpImul, jvmeval.OpIdiv, jvmeval.OpIrem, jvmeval.OpIneg,
		jvmeval.OpIshl, jvmeval.OpIshr, jvmeval.OpIushr, jvmeval.OpIand, jvmeval.OpIor, jvmeval.OpIxor:
		return KindInteger
	case jvmeval.OpLadd, jvmeval.OpLsub, jvmeval.OpLmul, jvmeval.OpLdiv, jvmeval.OpLrem, jvmeval.OpLneg,
		jvmeval.OpLshl, jvmeval.OpLshr, jvmeval.OpLushr, jvmeval.OpLand, jvmeval.OpLor, jvmeval.OpLxor:
		return KindLong
	case jvmeval.OpFadd, jvmeval.OpFsub, jvmeval.OpFmul, jvmeval.OpFdiv, jvmeval.OpFrem, jvmeval.OpFneg:
		return KindFloat
	}
	return KindDouble
}

// resultOf returns the non-folded result of an operation on operands.
func resultOf(kind Kind, operands ...Value) Value {
	for _, o := range operands {
		if o.mode == ModeUnknown {
			return UnknownOf(kind)
		}
	}
	return TypedOf(kind)
}

// evalIntCondition decides a conditional branch on ints.
func evalIntCondition(op jvmeval.Opcode, a, b int32) bool {
	switch op {
	case jvmeval.OpIfeq, jvmeval.OpIfIcmpeq:
		return a == b
	case jvmeval.OpIfne, jvmeval.OpIfIcmpne:
		return a != b
	case jvmeval.OpIflt, jvmeval.OpIfIcmplt:
		return a < b
	case jvmeval.OpIfge, jvmeval.OpIfIcmpge:
		return a >= b
	case jvmeval.OpIfgt, jvmeval.OpIfIcmpgt:
		return a > b
	default:
		return a <= b
	}
}
