package vm

import (
	"testing"
)

func sampleChunks(t *testing.T) []*Chunk {
	top := NewChunk("")
	emitConst(t, top, NewList(Symbol("a"), String("b"), Float(1.5), Boolean(true), NewList(Integer(-3))))
	emitConst(t, top, Float(0))
	emitConst(t, top, Boolean(false))
	idx, _ := top.AddFunction(squareChunk(t))
	top.EmitUint16(OpMakeClosure, idx)
	emitName(t, top, OpDefine, "square")
	top.Emit(OpReturn)
	top.AddSourceLocation(0, 1, 1)

	rest := NewChunk("collect")
	rest.Params = []string{"a"}
	rest.Rest = "more"
	emitName(t, rest, OpLoadVar, "more")
	rest.Emit(OpReturn)
	second := NewChunk("")
	idx, _ = second.AddFunction(rest)
	second.EmitUint16(OpMakeClosure, idx)
	second.Emit(OpReturn)

	return []*Chunk{top, second}
}

func TestImageRoundTrip(t *testing.T) {
	chunks := sampleChunks(t)
	data, err := MarshalImage(chunks)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	if !IsImage(data) {
		t.Fatal("encoded image lacks the magic header")
	}

	got, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}
	if len(got) != len(chunks) {
		t.Fatalf("decoded %d chunks, want %d", len(got), len(chunks))
	}
	for i := range chunks {
		if a, b := chunks[i].Disassemble(), got[i].Disassemble(); a != b {
			t.Errorf("chunk %d differs after round trip:\n--- before\n%s\n--- after\n%s", i, a, b)
		}
	}
	if got[1].Functions[0].Rest != "more" {
		t.Errorf("rest parameter = %q, want more", got[1].Functions[0].Rest)
	}
	if line, _ := got[0].GetSourceLocation(0); line != 1 {
		t.Errorf("source line = %d, want 1", line)
	}
}

func TestImageIsDeterministic(t *testing.T) {
	a, err := MarshalImage(sampleChunks(t))
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	b, err := MarshalImage(sampleChunks(t))
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	if string(a) != string(b) {
		t.Error("encoding the same chunks twice produced different bytes")
	}
}

func TestImageExecutesAfterDecode(t *testing.T) {
	data, err := MarshalImage(sampleChunks(t))
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	chunks, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}

	v := NewVM()
	if _, err := v.ExecuteAll(chunks); err != nil {
		t.Fatalf("ExecuteAll: %v", err)
	}
	sq, ok := v.Lookup("square")
	if !ok {
		t.Fatal("square not defined by image")
	}
	r, err := v.Interpreter().Apply(sq, []Value{Integer(6)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !Equal(r, Integer(36)) {
		t.Errorf("(square 6) = %s, want 36", r)
	}
}

func TestImageRejectsBadInput(t *testing.T) {
	good, err := MarshalImage(sampleChunks(t))
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}

	badOpcode := NewChunk("")
	badOpcode.Code = []byte{0xEE}
	badImage, err := MarshalImage([]*Chunk{badOpcode})
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}

	badIndex := NewChunk("")
	badIndex.EmitUint16(OpConst, 4)
	badIndexImage, err := MarshalImage([]*Chunk{badIndex})
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", []byte("NOPE")},
		{"truncated body", good[:len(good)/2]},
		{"unknown opcode", badImage},
		{"constant out of range", badIndexImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalImage(tt.data)
			if !isType(err, ImageError) {
				t.Errorf("err = %v, want image error", err)
			}
		})
	}
}

func TestImageRejectsClosureConstant(t *testing.T) {
	c := NewChunk("")
	c.Constants = append(c.Constants, &Closure{Chunk: NewChunk("f")})
	if _, err := MarshalImage([]*Chunk{c}); !isType(err, ImageError) {
		t.Errorf("err = %v, want image error", err)
	}
}

func TestImageRejectsStackUnderflow(t *testing.T) {
	c := NewChunk("")
	c.Code = []byte{byte(OpPop), byte(OpReturn)}
	data, err := MarshalImage([]*Chunk{c})
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	if _, err := UnmarshalImage(data); !isType(err, ImageError) {
		t.Fatalf("err = %v, want image error", err)
	}

	// The same code nested in a function is caught too.
	outer := NewChunk("")
	outer.Functions = append(outer.Functions, c)
	outer.EmitUint16(OpMakeClosure, 0)
	outer.Emit(OpReturn)
	data, err = MarshalImage([]*Chunk{outer})
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	if _, err := UnmarshalImage(data); !isType(err, ImageError) {
		t.Errorf("nested function: err = %v, want image error", err)
	}
}
