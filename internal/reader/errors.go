package reader

import (
	"errors"
	"fmt"
	"io/fs"
)

// Kind 는 파일 단위 실패의 분류.
// worker / tail scanner 경계에서 exhaustive 하게 처리된다.
type Kind uint8

const (
	// IOFailure: 그 외 모든 read 실패 (디렉토리, EIO 등)
	IOFailure Kind = iota
	// NotFound: 경로가 존재하지 않음
	NotFound
	// PermissionDenied: 읽기 권한 없음
	PermissionDenied
	// DecodeAnomaly: 잘못된 바이트 시퀀스.
	// resilience 정책으로 항상 복구되며 error 로 반환되지 않는다 (Anomalies() 로만 집계).
	DecodeAnomaly
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case DecodeAnomaly:
		return "decode anomaly"
	default:
		return "i/o failure"
	}
}

// ErrNotRegular 는 디렉토리처럼 라인 단위로 읽을 수 없는 경로.
var ErrNotRegular = errors.New("not a regular file")

// Error 는 reader 가 보고하는 유일한 에러 타입.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 는 err 체인에서 *Error 를 찾아 Kind 를 돌려준다.
// reader 에러가 아니면 IOFailure 로 본다.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return IOFailure
}

// classify 는 os 레벨 에러를 Kind 로 매핑한다.
func classify(path string, err error) *Error {
	kind := IOFailure
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = NotFound
	case errors.Is(err, fs.ErrPermission):
		kind = PermissionDenied
	}
	return &Error{Kind: kind, Path: path, Err: err}
}
