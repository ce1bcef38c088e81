// Package reader 는 대용량 로그 파일 하나를 메모리 상한 안에서
// 한 줄씩 읽어내는 streaming reader 를 제공한다.
package reader

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"unicode"

	"logsweep/internal/model"
	"logsweep/internal/pool"
)

const (
	// DefaultBufferSize 는 OS read 한 번에 가져오는 크기.
	DefaultBufferSize = 64 * 1024

	// DefaultMaxLineSize 를 넘는 라인은 잘라내고 나머지는 버린다.
	// 10GB 짜리 파일에 개행이 없는 경우에도 메모리가 고정되도록 하기 위함.
	DefaultMaxLineSize = 1024 * 1024
)

type options struct {
	mode        Mode
	bufferSize  int
	maxLineSize int
	tailLines   int
}

// Option 은 Open 의 동작을 조정한다.
type Option func(*options)

func WithDecodeMode(m Mode) Option { return func(o *options) { o.mode = m } }

func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}

// Reader
//
// 파일 하나에 대한 lazy / 유한 / single-pass 라인 시퀀스.
//   - Next() 가 true 일 때만 Line() 이 유효하다.
//   - Next() 가 false 를 돌려주는 순간 파일 핸들은 이미 닫혀 있다.
//   - 소진된 Reader 는 재사용할 수 없다. 다시 읽으려면 Open 을 새로 호출한다.
//
// 메모리 사용량은 (bufferSize + maxLineSize) 로 고정되며,
// 지금까지 읽은 라인 수와 무관하다.
type Reader struct {
	path  string
	file  *os.File
	br    *bufio.Reader
	buf   *bytes.Buffer
	dec   *Decoder
	opts  options
	line  model.LogLine
	err   error
	done  bool
	count int64

	anomalies int64
	truncated int64

	// 계측용: Next 직후 Reader 가 들고 있던 바이트 수의 최대값
	// (현재 라인 버퍼 + bufio 에 읽혀 있지만 아직 소비 안 된 바이트)
	peakBuffered int
}

// Open 은 path 를 열고 Reader 를 만든다.
// 실패 시 *Error (NotFound / PermissionDenied / IOFailure) 를 돌려주며
// 이 경우 라인은 하나도 나오지 않는다.
func Open(path string, opts ...Option) (*Reader, error) {
	o := options{
		mode:        ModeReplace,
		bufferSize:  DefaultBufferSize,
		maxLineSize: DefaultMaxLineSize,
	}
	for _, fn := range opts {
		fn(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, classify(path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, classify(path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, &Error{Kind: IOFailure, Path: path, Err: ErrNotRegular}
	}

	// tail 모드: 끝에서부터 거슬러 올라가 마지막 N 라인의 시작 위치로 이동
	if o.tailLines > 0 && info.Mode().IsRegular() {
		off, err := tailOffset(f, info.Size(), o.tailLines)
		if err == nil {
			_, err = f.Seek(off, io.SeekStart)
		}
		if err != nil {
			_ = f.Close()
			return nil, classify(path, err)
		}
	}

	return &Reader{
		path: path,
		file: f,
		br:   bufio.NewReaderSize(f, o.bufferSize),
		buf:  pool.GetLine(),
		dec:  NewDecoder(o.mode),
		opts: o,
	}, nil
}

// Next 는 다음 라인을 읽는다.
// EOF 또는 에러로 시퀀스가 끝나면 false 를 돌려주고 파일을 닫는다.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}

	// 이전 라인은 여기서 놓는다
	r.buf.Reset()

	got, cut := false, false
	for {
		frag, isPrefix, err := r.br.ReadLine()
		if err != nil {
			// 개행 없이 버퍼 경계에서 끝난 마지막 라인
			if errors.Is(err, io.EOF) && got {
				break
			}
			r.finish(err)
			return false
		}
		got = true

		// MaxLineSize 초과분은 버리고 라인 끝까지 읽어 넘긴다
		if room := r.opts.maxLineSize - r.buf.Len(); len(frag) > room {
			r.buf.Write(frag[:room])
			cut = true
		} else {
			r.buf.Write(frag)
		}
		if !isPrefix {
			break
		}
	}
	if cut {
		r.truncated++
	}

	text, anomaly := r.dec.Decode(r.buf.Bytes())
	if anomaly {
		r.anomalies++
	}

	r.count++
	r.line = model.LogLine{
		Source: model.LogSource(r.path),
		Number: r.count,
		Text:   strings.TrimRightFunc(text, unicode.IsSpace),
	}

	if held := r.buf.Len() + r.br.Buffered(); held > r.peakBuffered {
		r.peakBuffered = held
	}
	return true
}

// Line 은 마지막으로 Next 가 읽은 라인.
func (r *Reader) Line() model.LogLine { return r.line }

// Raw 는 디코딩 전 라인 바이트 (개행 제외).
// 다음 Next 호출 전까지만 유효하므로 보관하려면 복사해야 한다.
func (r *Reader) Raw() []byte {
	if r.buf == nil {
		return nil
	}
	return r.buf.Bytes()
}

// Err 는 시퀀스를 끝낸 에러. 정상 EOF 면 nil.
func (r *Reader) Err() error { return r.err }

// Lines 는 지금까지 만들어낸 라인 수.
func (r *Reader) Lines() int64 { return r.count }

// Anomalies 는 잘못된 바이트가 정상화된 라인 수 (DecodeAnomaly).
func (r *Reader) Anomalies() int64 { return r.anomalies }

// Truncated 는 MaxLineSize 를 넘어 잘린 라인 수.
func (r *Reader) Truncated() int64 { return r.truncated }

// PeakBuffered 는 Reader 가 한 시점에 들고 있던 바이트 수의 최대값.
// 파일 크기나 라인 수와 상관없이 bufferSize + maxLineSize 를 넘지 않는다.
func (r *Reader) PeakBuffered() int { return r.peakBuffered }

// Close 는 파일 핸들과 버퍼를 반환한다. 여러 번 호출해도 안전.
func (r *Reader) Close() error {
	if r.done {
		return nil
	}
	r.done = true

	pool.PutLine(r.buf)
	r.buf = nil
	r.br = nil

	err := r.file.Close()
	r.file = nil
	return err
}

// finish 는 EOF / 에러로 시퀀스를 닫는다.
func (r *Reader) finish(err error) {
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = classify(r.path, err)
	}
	if cerr := r.Close(); cerr != nil && r.err == nil {
		r.err = classify(r.path, cerr)
	}
}

// Each 는 path 의 모든 라인에 fn 을 적용한다.
// fn 이 false 를 돌려주면 중단하며, 어떤 경우든 파일은 닫힌다.
func Each(path string, fn func(model.LogLine) bool, opts ...Option) error {
	r, err := Open(path, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	for r.Next() {
		if !fn(r.Line()) {
			return nil
		}
	}
	return r.Err()
}
