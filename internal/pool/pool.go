package pool

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// aggregate 는 수천 개 파일을 worker 수만큼 돌려가며 연다.
// 파일마다 라인 버퍼와 gzip writer 를 새로 만들면
// 불필요한 할당과 GC 가 늘어나므로 여기서 재사용한다.
// ---------------------------------------------------------------

var (
	// LinePool:
	//   - reader 가 한 줄을 조립할 때 쓰는 버퍼
	//   - 초기 용량 4KB (대부분의 로그 라인은 여기에 수용됨)
	//   - MaxLineSize 까지 커진 버퍼는 caller(maxCap 조건)에서 버린다
	LinePool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// GzipPool:
	//   - archive 압축에 쓰는 gzip.Writer 재사용
	//   - BestSpeed: 업로드 전 단계라 속도 우선
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// MaxLineBufCap 보다 큰 라인 버퍼는 Pool 에 넣지 않는다.
// 초대형 라인 하나 때문에 모든 worker 가 큰 버퍼를 쥐고 있지 않도록.
const MaxLineBufCap = 256 * 1024

// GetLine 은 비어있는 라인 버퍼를 꺼낸다.
func GetLine() *bytes.Buffer {
	buf := LinePool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutLine:
//   - MaxLineBufCap 이하이면 재사용
//   - 그 외는 GC 에 맡긴다
func PutLine(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() <= MaxLineBufCap {
		buf.Reset()
		LinePool.Put(buf)
	}
}

// GetGzip 은 dst 에 쓰도록 reset 된 gzip.Writer 를 돌려준다.
// 사용 후 반드시 Close → PutGzip 순서로 반환한다.
func GetGzip(dst io.Writer) *gzip.Writer {
	gz := GzipPool.Get().(*gzip.Writer)
	gz.Reset(dst)
	return gz
}

func PutGzip(gz *gzip.Writer) {
	gz.Reset(io.Discard)
	GzipPool.Put(gz)
}
