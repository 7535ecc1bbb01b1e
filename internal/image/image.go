// Package image reads and writes compiled module images: the IR of every
// defined function plus the user operator table, encoded as canonical CBOR.
package image

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"klang/internal/ir"
)

const (
	Magic   = "KIMG"
	Version = 1
)

var ErrFormat = errors.New("not a klang module image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: cbor enc mode: %v", err))
	}
	cborEncMode = em
}

// Header identifies an image.
type Header struct {
	Magic   string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	ID      uuid.UUID `cbor:"3,keyasint"`
	Name    string    `cbor:"4,keyasint"`
	Created int64     `cbor:"5,keyasint"` // unix seconds
}

// Operator is a user-defined binary operator and its precedence.
type Operator struct {
	Symbol     byte `cbor:"1,keyasint"`
	Precedence int  `cbor:"2,keyasint"`
}

// Image is a decoded module image.
type Image struct {
	Header    Header
	Module    *ir.IRModule
	Operators []Operator
}

type wireImage struct {
	Header    Header     `cbor:"1,keyasint"`
	Functions []wireFunc `cbor:"2,keyasint"`
	Operators []Operator `cbor:"3,keyasint,omitempty"`
}

type wireFunc struct {
	Name      string      `cbor:"1,keyasint"`
	Params    []string    `cbor:"2,keyasint,omitempty"`
	Blocks    []wireBlock `cbor:"3,keyasint,omitempty"`
	NextVReg  int         `cbor:"4,keyasint,omitempty"`
	NextLabel int         `cbor:"5,keyasint,omitempty"`
}

type wireBlock struct {
	Label  string      `cbor:"1,keyasint"`
	Instrs []wireInstr `cbor:"2,keyasint"`
}

type wireInstr struct {
	Op     int           `cbor:"1,keyasint"`
	Dst    *wireOperand  `cbor:"2,keyasint,omitempty"`
	Src1   *wireOperand  `cbor:"3,keyasint,omitempty"`
	Src2   *wireOperand  `cbor:"4,keyasint,omitempty"`
	Args   []wireOperand `cbor:"5,keyasint,omitempty"`
	Labels []string      `cbor:"6,keyasint,omitempty"`
	Callee string        `cbor:"7,keyasint,omitempty"`
	Name   string        `cbor:"8,keyasint,omitempty"`
}

type wireOperand struct {
	Kind  int     `cbor:"1,keyasint"`
	Reg   int     `cbor:"2,keyasint,omitempty"`
	Imm   float64 `cbor:"3,keyasint"`
	Index int     `cbor:"4,keyasint,omitempty"`
}

// New wraps a module and its operators in an image with a fresh ID.
func New(mod *ir.IRModule, ops []Operator) *Image {
	return &Image{
		Header: Header{
			Magic:   Magic,
			Version: Version,
			ID:      uuid.New(),
			Name:    mod.Name,
			Created: time.Now().Unix(),
		},
		Module:    mod,
		Operators: ops,
	}
}

// Encode serializes img.
func Encode(img *Image) ([]byte, error) {
	w := wireImage{Header: img.Header, Operators: img.Operators}
	for _, fn := range img.Module.Functions {
		w.Functions = append(w.Functions, toWireFunc(fn))
	}
	return cborEncMode.Marshal(w)
}

// Decode parses an image and verifies every function in it.
func Decode(data []byte) (*Image, error) {
	var w wireImage
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if w.Header.Magic != Magic {
		return nil, ErrFormat
	}
	if w.Header.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", w.Header.Version)
	}

	mod := ir.NewModule(w.Header.Name)
	for _, wf := range w.Functions {
		if err := mod.AddFunction(fromWireFunc(wf)); err != nil {
			return nil, fmt.Errorf("image: %w", err)
		}
	}
	for _, fn := range mod.Functions {
		if err := ir.Verify(fn, mod); err != nil {
			return nil, fmt.Errorf("image: %w", err)
		}
	}
	return &Image{Header: w.Header, Module: mod, Operators: w.Operators}, nil
}

// WriteFile encodes img to path.
func WriteFile(path string, img *Image) error {
	data, err := Encode(img)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile decodes the image at path.
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func toWireFunc(fn *ir.IRFunc) wireFunc {
	wf := wireFunc{Name: fn.Name, Params: fn.ParamNames, NextVReg: fn.NextVReg, NextLabel: fn.NextLabel}
	for _, b := range fn.Blocks {
		wb := wireBlock{Label: b.Label}
		for _, instr := range b.Instrs {
			wi := wireInstr{
				Op:     int(instr.Op),
				Dst:    toWireOptional(instr.Dst),
				Src1:   toWireOptional(instr.Src1),
				Src2:   toWireOptional(instr.Src2),
				Labels: instr.Labels,
				Callee: instr.Callee,
				Name:   instr.Name,
			}
			for _, a := range instr.Args {
				wi.Args = append(wi.Args, toWireOperand(a))
			}
			wb.Instrs = append(wb.Instrs, wi)
		}
		wf.Blocks = append(wf.Blocks, wb)
	}
	return wf
}

func fromWireFunc(wf wireFunc) *ir.IRFunc {
	fn := ir.NewFunc(wf.Name, wf.Params)
	fn.NextVReg, fn.NextLabel = wf.NextVReg, wf.NextLabel
	for _, wb := range wf.Blocks {
		b := &ir.IRBlock{Label: wb.Label}
		for _, wi := range wb.Instrs {
			instr := ir.IRInstr{
				Op:     ir.IROp(wi.Op),
				Dst:    fromWireOptional(wi.Dst),
				Src1:   fromWireOptional(wi.Src1),
				Src2:   fromWireOptional(wi.Src2),
				Labels: wi.Labels,
				Callee: wi.Callee,
				Name:   wi.Name,
			}
			for _, a := range wi.Args {
				instr.Args = append(instr.Args, fromWireOperand(a))
			}
			b.Emit(instr)
		}
		fn.AppendBlock(b)
	}
	return fn
}

func toWireOperand(op ir.Operand) wireOperand {
	return wireOperand{Kind: int(op.Kind), Reg: op.Reg, Imm: op.Imm, Index: op.Index}
}

func fromWireOperand(w wireOperand) ir.Operand {
	return ir.Operand{Kind: ir.OpKind(w.Kind), Reg: w.Reg, Imm: w.Imm, Index: w.Index}
}

func toWireOptional(op ir.Operand) *wireOperand {
	if op.Kind == ir.OpNone {
		return nil
	}
	w := toWireOperand(op)
	return &w
}

func fromWireOptional(w *wireOperand) ir.Operand {
	if w == nil {
		return ir.None()
	}
	return fromWireOperand(*w)
}
