package vm

import (
	"fmt"
	"strings"
)

// Inspector provides debugging inspection of heap Values. It follows
// fields recursively and reports where each block lives.
type Inspector struct {
	h *Heap
}

// InspectionResult contains structured information about an inspected value.
type InspectionResult struct {
	Kind       string              // Int, Block, String, Double, DoubleArray, Object, Atom or OutOfHeap
	Value      string              // String representation of the value
	Generation string              // young, old or static; empty for immediates
	Tag        int                 // ObjTag of the value
	Size       int                 // Number of fields (doubles for float arrays)
	Fields     []*InspectionResult // Preview of the fields (limited)
}

// MaxFieldPreview is the maximum number of fields to preview.
const MaxFieldPreview = 10

// DefaultMaxDepth is the default recursion depth for inspection.
const DefaultMaxDepth = 3

// NewInspector creates a new Inspector attached to the given heap.
func NewInspector(h *Heap) *Inspector {
	return &Inspector{h: h}
}

// Inspect inspects a value with the default maximum depth.
func (i *Inspector) Inspect(v Value) *InspectionResult {
	return i.InspectDepth(v, DefaultMaxDepth)
}

// InspectDepth inspects a value with a specified maximum recursion depth.
// When depth reaches 0, fields are not followed.
func (i *Inspector) InspectDepth(v Value, depth int) *InspectionResult {
	h := i.h
	result := &InspectionResult{Tag: h.ObjTag(v)}

	switch {
	case v.IsImmediate():
		result.Kind = "Int"
		result.Value = fmt.Sprintf("%d", v.Int())
		return result
	case result.Tag == OutOfHeapTag:
		result.Kind = "OutOfHeap"
		result.Value = fmt.Sprintf("%#x", uint64(v))
		return result
	}

	result.Generation = i.generation(v)
	hd := h.Header(v)
	result.Size = int(hd.Wosize)

	switch {
	case hd.Wosize == 0:
		result.Kind = "Atom"
		result.Value = fmt.Sprintf("atom(%d)", hd.Tag)
		return result
	case hd.Tag == StringTag:
		result.Kind = "String"
		result.Value = fmt.Sprintf("%q", h.StringVal(v))
		return result
	case hd.Tag == DoubleTag:
		result.Kind = "Double"
		result.Value = fmt.Sprintf("%g", h.DoubleVal(v))
		return result
	case hd.Tag == DoubleArrayTag:
		result.Kind = "DoubleArray"
		result.Size = int(h.ArrayLength(v))
		result.Value = fmt.Sprintf("float array[%d]", result.Size)
		for j := 0; j < result.Size && j < MaxFieldPreview; j++ {
			result.Fields = append(result.Fields, &InspectionResult{
				Kind:  "Double",
				Value: fmt.Sprintf("%g", h.DoubleField(v, j)),
				Tag:   int(DoubleTag),
			})
		}
		return result
	case !hd.Tag.Scannable():
		result.Kind = "Block"
		result.Value = fmt.Sprintf("raw block tag %d, %d words", hd.Tag, hd.Wosize)
		return result
	case hd.Tag == ObjectTag:
		result.Kind = "Object"
		result.Value = fmt.Sprintf("object #%d, %d fields", h.ObjectID(v), hd.Wosize-2)
	default:
		result.Kind = "Block"
		result.Value = fmt.Sprintf("block tag %d, %d fields", hd.Tag, hd.Wosize)
	}

	if depth > 0 {
		for j := 0; j < result.Size && j < MaxFieldPreview; j++ {
			result.Fields = append(result.Fields, i.InspectDepth(h.Field(v, j), depth-1))
		}
	}
	return result
}

func (i *Inspector) generation(v Value) string {
	switch {
	case i.h.IsYoung(v):
		return "young"
	case i.h.IsInHeap(v):
		return "old"
	default:
		return "static"
	}
}

// String returns a pretty-printed representation of the inspection result.
func (r *InspectionResult) String() string {
	return r.stringWithIndent(0)
}

// stringWithIndent creates a string representation with the given indentation level.
func (r *InspectionResult) stringWithIndent(indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	// Kind and value header
	sb.WriteString(prefix)
	sb.WriteString(r.Kind)
	sb.WriteString(": ")
	sb.WriteString(r.Value)
	if r.Generation != "" {
		sb.WriteString(" (")
		sb.WriteString(r.Generation)
		sb.WriteString(")")
	}
	sb.WriteString("\n")

	if len(r.Fields) > 0 {
		sb.WriteString(prefix)
		sb.WriteString(fmt.Sprintf("  fields (showing %d of %d):\n", len(r.Fields), r.Size))
		for idx, f := range r.Fields {
			sb.WriteString(prefix)
			sb.WriteString(fmt.Sprintf("    [%d]: %s\n", idx, f.Value))
		}
	}

	return sb.String()
}

// PrettyPrint returns a detailed multi-line representation with full nesting.
func (r *InspectionResult) PrettyPrint() string {
	return r.prettyPrintWithIndent(0)
}

// prettyPrintWithIndent creates a detailed representation with nesting.
func (r *InspectionResult) prettyPrintWithIndent(indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(prefix)
	sb.WriteString(r.Kind)
	sb.WriteString(": ")
	sb.WriteString(r.Value)
	if r.Generation != "" {
		sb.WriteString(" (")
		sb.WriteString(r.Generation)
		sb.WriteString(")")
	}
	sb.WriteString("\n")

	for idx, f := range r.Fields {
		sb.WriteString(prefix)
		sb.WriteString(fmt.Sprintf("  [%d]:\n", idx))
		sb.WriteString(f.prettyPrintWithIndent(indent + 2))
	}

	return sb.String()
}
