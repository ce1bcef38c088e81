// internal/model/alert.go
package model

import "fmt"

// LogSource
// ------------------------------------------------------------
// 입력 파일 하나를 가리키는 경로.
// worker 에 할당된 이후에는 변경되지 않는다.
type LogSource string

func (s LogSource) String() string { return string(s) }

// LogLine
// ------------------------------------------------------------
// reader 가 만들어내는 한 줄.
// 디코딩 + 우측 공백 제거가 끝난 텍스트와, 원본 파일 내 순번(1부터)을 가진다.
// 단일 pass 안에서만 살아있고, 대량으로 보관하지 않는다.
type LogLine struct {
	Source LogSource `json:"source"`
	Number int64     `json:"line"`
	Text   string    `json:"text"`
}

// AlertKind 는 sink 로 전달되는 메시지의 종류.
type AlertKind uint8

const (
	// AlertMatch: predicate 에 걸린 일반 라인
	AlertMatch AlertKind = iota
	// AlertFailure: 파일 open/read 실패 보고
	AlertFailure
)

func (k AlertKind) String() string {
	switch k {
	case AlertMatch:
		return "match"
	case AlertFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// MarshalText 는 jsonl 출력에서 kind 를 문자열로 남기기 위해 사용한다.
func (k AlertKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// AlertMessage
// ------------------------------------------------------------
// sink 로 넘어가는 알림 한 건.
// channel 에 들어간 순간 소유권은 sink 로 넘어가며,
// 정확히 한 번만 소비된다.
type AlertMessage struct {
	Kind   AlertKind `json:"kind"`
	Source LogSource `json:"source"`
	Number int64     `json:"line,omitempty"`
	Text   string    `json:"text"`
}

// NewMatch 는 predicate 에 걸린 라인으로 알림을 만든다.
func NewMatch(l LogLine) AlertMessage {
	return AlertMessage{Kind: AlertMatch, Source: l.Source, Number: l.Number, Text: l.Text}
}

// NewFailure 는 파일 단위 실패를 알림으로 변환한다.
func NewFailure(src LogSource, err error) AlertMessage {
	return AlertMessage{Kind: AlertFailure, Source: src, Text: err.Error()}
}

// String
//
// destination 에 기록되는 한 줄 포맷.
//   - match:   "From <source>: <line-text>"
//   - failure: "CRITICAL FAILURE in <source>: <error-description>"
func (a AlertMessage) String() string {
	if a.Kind == AlertFailure {
		return fmt.Sprintf("CRITICAL FAILURE in %s: %s", a.Source, a.Text)
	}
	return fmt.Sprintf("From %s: %s", a.Source, a.Text)
}
