// Package tailscan 은 파일 끝의 N 라인만 읽어 알림 키워드를 찾고,
// 매치된 라인 뒤의 문맥 라인을 함께 보고한다.
package tailscan

import (
	"strings"

	"logsweep/internal/reader"
)

// DefaultContext 는 매치 뒤에 붙여 보여줄 라인 수.
const DefaultContext = 2

// DefaultKeywords 는 대소문자 구분 없이 비교된다.
var DefaultKeywords = []string{"ERROR", "FAILURE"}

// Finding 은 매치된 라인 하나와 그 뒤 문맥.
type Finding struct {
	Index   int      // window 안의 위치 (0 = 가장 오래된 라인)
	Line    string   // 매치된 라인
	Context []string // Index+1 .. Index+k 중 window 안에 존재하는 라인만
}

// Result 는 파일 하나를 scan 한 결과.
type Result struct {
	Path     string
	Lines    int // window 에 담긴 라인 수
	Findings []Finding
}

type Option func(*Scanner)

func WithWindow(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.window = n
		}
	}
}

func WithContext(k int) Option {
	return func(s *Scanner) {
		if k >= 0 {
			s.context = k
		}
	}
}

// WithKeywords 는 비어있지 않은 키워드만 받아들인다.
func WithKeywords(kw ...string) Option {
	return func(s *Scanner) {
		var out []string
		for _, k := range kw {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				out = append(out, k)
			}
		}
		if len(out) > 0 {
			s.keywords = out
		}
	}
}

func WithDecodeMode(m reader.Mode) Option {
	return func(s *Scanner) { s.mode = m }
}

// Scanner 는 설정만 가지며 호출 간 공유 상태가 없다.
// 같은 Scanner 로 여러 파일을 순서대로, 혹은 동시에 scan 해도 된다.
type Scanner struct {
	window   int
	context  int
	keywords []string
	mode     reader.Mode
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		window:   DefaultWindow,
		context:  DefaultContext,
		keywords: DefaultKeywords,
		mode:     reader.ModeIgnore,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Scan
//
// path 의 마지막 window 라인만 읽어 키워드 매치를 찾는다.
//  1. reader 가 파일 끝에서부터 거슬러 올라가 마지막 N 라인의 시작으로 seek
//  2. 그 지점부터 읽은 라인을 Window(ring) 에 push
//  3. window 안에서 매치 + 뒤 문맥(최대 context 라인, window 범위 내)을 수집
//
// open/read 실패는 *reader.Error 로 그대로 돌려준다.
func (s *Scanner) Scan(path string) (*Result, error) {
	r, err := reader.Open(path,
		reader.WithDecodeMode(s.mode),
		reader.WithTailLines(s.window),
	)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w := NewWindow(s.window)
	for r.Next() {
		w.Push(r.Raw(), strings.TrimSpace(r.Line().Text))
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	res := &Result{Path: path, Lines: w.Len()}
	for i := 0; i < w.Len(); i++ {
		line := w.Text(i)
		if !s.matches(line) {
			continue
		}

		f := Finding{Index: i, Line: line}
		for j := 1; j <= s.context; j++ {
			if i+j >= w.Len() {
				break
			}
			f.Context = append(f.Context, w.Text(i+j))
		}
		res.Findings = append(res.Findings, f)
	}
	return res, nil
}

func (s *Scanner) matches(line string) bool {
	upper := strings.ToUpper(line)
	for _, k := range s.keywords {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}
