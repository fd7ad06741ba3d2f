// types.go - Datentypen und Konstanten fuer ML-Operationen
// Dieses Modul definiert grundlegende Typen wie DType und PadMode.
package ml

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeI32
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	case DTypeI32:
		return "I32"
	default:
		return "other"
	}
}

// PadMode selects how Pad fills the new positions.
type PadMode int

const (
	// PadConstant fills with zeros.
	PadConstant PadMode = iota
	// PadEdge replicates the boundary element.
	PadEdge
)

func (m PadMode) String() string {
	if m == PadEdge {
		return "edge"
	}
	return "constant"
}
