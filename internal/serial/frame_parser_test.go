package serial

import (
	"bytes"
	"testing"
)

func TestDelimitedParser(t *testing.T) {
	parse := Parsers["customProto16"]
	buf := []byte{0x01, 0x02, 0x16, 0xAA, 0x33, 0x16, 0xBB}
	frame, rest, err := parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame, []byte{0x16, 0xAA, 0x33}) {
		t.Fatalf("frame = % X", frame)
	}
	if !bytes.Equal(rest, []byte{0x16, 0xBB}) {
		t.Fatalf("rest = % X", rest)
	}

	frame, rest, _ = parse(rest)
	if frame != nil || !bytes.Equal(rest, []byte{0x16, 0xBB}) {
		t.Fatalf("incomplete frame: frame=% X rest=% X", frame, rest)
	}
}

func TestDelimitedParser_HeadEqualsTailByteOfOtherProtocol(t *testing.T) {
	// 0x55 heads customProto55 and must not terminate it
	frame, _, _ := Parsers["customProto55"]([]byte{0x55, 0x01, 0xCC})
	if !bytes.Equal(frame, []byte{0x55, 0x01, 0xCC}) {
		t.Fatalf("frame = % X", frame)
	}
}

func TestDelimitedParser_DropsGarbage(t *testing.T) {
	frame, rest, err := Parsers["customProto23"]([]byte{0x01, 0x02})
	if frame != nil || len(rest) != 0 || err != nil {
		t.Fatalf("got %v %v %v", frame, rest, err)
	}
}

func TestSplitFrames(t *testing.T) {
	buf := []byte{0xAA, 1, 0x55, 0xAA, 2, 0x55, 0xAA, 3}
	frames, rest, err := splitFrames(Parsers["customProto23"], buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || !bytes.Equal(rest, []byte{0xAA, 3}) {
		t.Fatalf("frames=%d rest=% X", len(frames), rest)
	}
}

func TestRawParser(t *testing.T) {
	frames, rest, _ := splitFrames(Parsers["raw"], []byte("hello"))
	if len(frames) != 1 || string(frames[0]) != "hello" || len(rest) != 0 {
		t.Fatalf("frames=%q rest=%q", frames, rest)
	}
	if _, err := ParserFor("nope"); err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}
