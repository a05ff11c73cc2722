package serial

import (
	"bytes"
	"fmt"
)

// FrameParser 从 buf 头部取出一个完整帧：
//   - frame: 完整帧；buf 中还不够一帧时为 nil
//   - rest:  留给下次调用的剩余字节
//   - err:   解析错误，调用方丢弃整个缓存
type FrameParser func(buf []byte) (frame []byte, rest []byte, err error)

// Parsers 协议 ID → 帧解析器
var Parsers = map[string]FrameParser{
	"raw":           parseRaw,
	"customProto23": delimited(0xAA, 0x55),
	"customProto16": delimited(0x16, 0x33),
	"customProto55": delimited(0x55, 0xCC),
}

// ParserFor 按协议 ID 取解析器
func ParserFor(id string) (FrameParser, error) {
	p, ok := Parsers[id]
	if !ok {
		return nil, fmt.Errorf("no parser for protocol %s", id)
	}
	return p, nil
}

// parseRaw 把当前缓存整体作为一帧返回
func parseRaw(buf []byte) ([]byte, []byte, error) {
	if len(buf) == 0 {
		return nil, buf, nil
	}
	return buf, nil, nil
}

// delimited 构造以 head 开头、tail 结尾（含）的帧解析器，帧头之前的字节丢弃
func delimited(head, tail byte) FrameParser {
	return func(buf []byte) ([]byte, []byte, error) {
		i := bytes.IndexByte(buf, head)
		if i < 0 {
			// 没有帧头，全部丢弃
			return nil, nil, nil
		}
		buf = buf[i:]
		j := bytes.IndexByte(buf[1:], tail)
		if j < 0 {
			return nil, buf, nil
		}
		return buf[:j+2], buf[j+2:], nil
	}
}

// splitFrames 反复调用 parse，直到取不出完整帧
func splitFrames(parse FrameParser, buf []byte) (frames [][]byte, rest []byte, err error) {
	for {
		frame, r, err := parse(buf)
		if err != nil {
			return frames, nil, err
		}
		if frame == nil {
			return frames, r, nil
		}
		frames = append(frames, frame)
		buf = r
	}
}
