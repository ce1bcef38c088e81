package reader

import (
	"io"
	"os"
)

// tailBlockSize 는 뒤에서부터 읽을 때 한 번에 읽는 크기.
const tailBlockSize = 64 * 1024

// WithTailLines 는 파일 끝의 n 라인만 읽도록 한다.
// 앞부분은 읽지 않으며, 라인 번호는 tail 시작 지점부터 1 로 센다.
func WithTailLines(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.tailLines = n
		}
	}
}

// tailOffset
//
// size 바이트짜리 파일에서 마지막 n 라인이 시작하는 offset 을 찾는다.
//   - 파일 끝의 개행 하나는 마지막 라인의 종료로 보고 세지 않는다
//   - 개행이 n 개보다 적으면 0 (파일 전체)
//
// 블록 단위로 끝에서부터 ReadAt 하므로 읽는 양은 마지막 n 라인 크기에 비례한다.
func tailOffset(f *os.File, size int64, n int) (int64, error) {
	if size == 0 || n <= 0 {
		return 0, nil
	}

	buf := make([]byte, tailBlockSize)
	seen := 0
	pos := size

	for pos > 0 {
		chunk := int64(tailBlockSize)
		if pos < chunk {
			chunk = pos
		}
		pos -= chunk

		if _, err := f.ReadAt(buf[:chunk], pos); err != nil && err != io.EOF {
			return 0, err
		}

		for i := chunk - 1; i >= 0; i-- {
			if buf[i] != '\n' {
				continue
			}
			off := pos + i
			if off == size-1 {
				continue
			}
			seen++
			if seen == n {
				return off + 1, nil
			}
		}
	}
	return 0, nil
}
