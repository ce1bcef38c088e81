package reader

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Mode 는 잘못된 바이트를 만났을 때의 처리 방식.
type Mode uint8

const (
	// ModeReplace: 잘못된 바이트마다 U+FFFD 로 치환 (aggregate 기본값)
	ModeReplace Mode = iota
	// ModeIgnore: 잘못된 바이트를 버린다 (tail scan 기본값)
	ModeIgnore
)

func (m Mode) String() string {
	if m == ModeIgnore {
		return "ignore"
	}
	return "replace"
}

// ParseMode 는 설정 문자열("replace" / "ignore")을 Mode 로 바꾼다.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "replace":
		return ModeReplace, nil
	case "ignore":
		return ModeIgnore, nil
	default:
		return ModeReplace, fmt.Errorf("unknown decode mode %q", s)
	}
}

// Decoder 는 raw 라인 바이트를 문자열로 바꾼다.
// 내부 상태를 가지므로 goroutine 간에 공유하지 않는다.
type Decoder struct {
	mode Mode
	dec  *encoding.Decoder
}

func NewDecoder(mode Mode) *Decoder {
	return &Decoder{mode: mode, dec: unicode.UTF8.NewDecoder()}
}

// Decode 는 raw 를 디코딩하고, 정상화가 일어났는지(anomaly) 함께 돌려준다.
// 대부분의 라인은 유효한 UTF-8 이므로 fast path 로 바로 복사한다.
func (d *Decoder) Decode(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), false
	}
	if d.mode == ModeIgnore {
		return string(bytes.ToValidUTF8(raw, nil)), true
	}
	out, err := d.dec.Bytes(raw)
	if err != nil {
		// UTF-8 decoder 는 치환만 하고 실패하지 않지만, 만약을 위해 같은 정책으로 처리
		return string(bytes.ToValidUTF8(raw, []byte("�"))), true
	}
	return string(out), true
}
