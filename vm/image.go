package vm

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Compiled images
// ---------------------------------------------------------------------------

// An image is the compiled form of a whole source file: the magic bytes
// followed by the canonical CBOR encoding of a wireImage.

// ImageMagic prefixes every image.
var ImageMagic = []byte("PRNS")

// ImageVersion is bumped whenever the opcode set or wire layout changes.
const ImageVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireImage struct {
	Version int          `cbor:"1,keyasint"`
	Chunks  []*wireChunk `cbor:"2,keyasint"`
}

type wireChunk struct {
	Name      string           `cbor:"1,keyasint,omitempty"`
	Code      []byte           `cbor:"2,keyasint"`
	Constants []wireValue      `cbor:"3,keyasint,omitempty"`
	Functions []*wireChunk     `cbor:"4,keyasint,omitempty"`
	Params    []string         `cbor:"5,keyasint,omitempty"`
	Rest      string           `cbor:"6,keyasint,omitempty"`
	SourceMap []SourceLocation `cbor:"7,keyasint,omitempty"`
}

// wireValue carries one constant. Only the field matching Kind is set.
type wireValue struct {
	Kind  Kind        `cbor:"1,keyasint"`
	Int   int64       `cbor:"2,keyasint,omitempty"`
	Float float64     `cbor:"3,keyasint,omitempty"`
	Text  string      `cbor:"4,keyasint,omitempty"`
	Bool  bool        `cbor:"5,keyasint,omitempty"`
	Items []wireValue `cbor:"6,keyasint,omitempty"`
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, ImageMagic)
}

// MarshalImage encodes top-level chunks as an image.
func MarshalImage(chunks []*Chunk) ([]byte, error) {
	img := wireImage{Version: ImageVersion, Chunks: make([]*wireChunk, len(chunks))}
	for i, c := range chunks {
		wc, err := toWireChunk(c)
		if err != nil {
			return nil, err
		}
		img.Chunks[i] = wc
	}
	body, err := cborEncMode.Marshal(&img)
	if err != nil {
		return nil, ImageError.Wrap(err, "encode image")
	}
	out := make([]byte, 0, len(ImageMagic)+len(body))
	out = append(out, ImageMagic...)
	return append(out, body...), nil
}

// UnmarshalImage decodes and validates an image produced by MarshalImage.
func UnmarshalImage(data []byte) ([]*Chunk, error) {
	if !IsImage(data) {
		return nil, ImageError.New("missing image header")
	}
	var img wireImage
	if err := cbor.Unmarshal(data[len(ImageMagic):], &img); err != nil {
		return nil, ImageError.Wrap(err, "decode image")
	}
	if img.Version != ImageVersion {
		return nil, ImageError.New("image version %d, want %d", img.Version, ImageVersion)
	}
	chunks := make([]*Chunk, len(img.Chunks))
	for i, wc := range img.Chunks {
		c, err := fromWireChunk(wc)
		if err != nil {
			return nil, err
		}
		if err := c.Validate(); err != nil {
			return nil, ImageError.New("chunk %d: %v", i, err)
		}
		chunks[i] = c
	}
	return chunks, nil
}

func toWireChunk(c *Chunk) (*wireChunk, error) {
	wc := &wireChunk{
		Name:      c.Name,
		Code:      c.Code,
		Params:    c.Params,
		Rest:      c.Rest,
		SourceMap: c.SourceMap,
	}
	for _, v := range c.Constants {
		wv, err := toWireValue(v)
		if err != nil {
			return nil, err
		}
		wc.Constants = append(wc.Constants, wv)
	}
	for _, fn := range c.Functions {
		wf, err := toWireChunk(fn)
		if err != nil {
			return nil, err
		}
		wc.Functions = append(wc.Functions, wf)
	}
	return wc, nil
}

func fromWireChunk(wc *wireChunk) (*Chunk, error) {
	if wc == nil {
		return nil, ImageError.New("nil chunk in image")
	}
	c := &Chunk{
		Name:      wc.Name,
		Code:      wc.Code,
		Params:    wc.Params,
		Rest:      wc.Rest,
		SourceMap: wc.SourceMap,
	}
	for _, wv := range wc.Constants {
		v, err := fromWireValue(wv)
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, v)
	}
	for _, wf := range wc.Functions {
		fn, err := fromWireChunk(wf)
		if err != nil {
			return nil, err
		}
		c.Functions = append(c.Functions, fn)
	}
	return c, nil
}

func toWireValue(v Value) (wireValue, error) {
	switch x := v.(type) {
	case Integer:
		return wireValue{Kind: KindInteger, Int: int64(x)}, nil
	case Float:
		return wireValue{Kind: KindFloat, Float: float64(x)}, nil
	case String:
		return wireValue{Kind: KindString, Text: string(x)}, nil
	case Symbol:
		return wireValue{Kind: KindSymbol, Text: string(x)}, nil
	case Boolean:
		return wireValue{Kind: KindBoolean, Bool: bool(x)}, nil
	case List:
		wv := wireValue{Kind: KindList}
		for _, item := range x {
			wi, err := toWireValue(item)
			if err != nil {
				return wireValue{}, err
			}
			wv.Items = append(wv.Items, wi)
		}
		return wv, nil
	}
	return wireValue{}, ImageError.New("cannot encode %s constant %s", v.Kind(), v)
}

func fromWireValue(wv wireValue) (Value, error) {
	switch wv.Kind {
	case KindInteger:
		return Integer(wv.Int), nil
	case KindFloat:
		return Float(wv.Float), nil
	case KindString:
		return String(wv.Text), nil
	case KindSymbol:
		return Symbol(wv.Text), nil
	case KindBoolean:
		return Boolean(wv.Bool), nil
	case KindList:
		items := make([]Value, len(wv.Items))
		for i, wi := range wv.Items {
			v, err := fromWireValue(wi)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return NewList(items...), nil
	}
	return nil, ImageError.New("unknown constant kind %d", wv.Kind)
}
