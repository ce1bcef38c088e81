package tailscan

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	zlog "github.com/rs/zerolog/log"
)

// Style 는 Report 출력 형식.
type Style uint8

const (
	// StylePlain: "Found: ..." / "--> ..." 텍스트 그대로
	StylePlain Style = iota
	// StyleColor: lipgloss 로 색을 입힌다. w 가 터미널이 아니면 색은 자동으로 빠진다.
	StyleColor
)

// Report 는 result 를 사람이 읽는 형태로 w 에 쓴다.
//
//	Found: <line>
//	--> <context>
//	--> <context>
func Report(w io.Writer, res *Result, style Style) error {
	found, ctx := stylesFor(w, style)

	for _, f := range res.Findings {
		if _, err := fmt.Fprintln(w, found("Found: "+f.Line)); err != nil {
			return err
		}
		for _, c := range f.Context {
			if _, err := fmt.Fprintln(w, ctx("--> "+c)); err != nil {
				return err
			}
		}
	}
	return nil
}

func stylesFor(w io.Writer, style Style) (func(string) string, func(string) string) {
	if style != StyleColor {
		plain := func(s string) string { return s }
		return plain, plain
	}

	r := lipgloss.NewRenderer(w)
	found := r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true) // red bold
	ctx := r.NewStyle().Foreground(lipgloss.Color("245"))              // gray
	return func(s string) string { return found.Render(s) },
		func(s string) string { return ctx.Render(s) }
}

// Summary 는 ScanAll 의 집계.
type Summary struct {
	Files    int
	Failed   int
	Findings int
}

// ScanAll
//
// paths 를 하나씩 독립적으로 scan 한다.
// 한 파일의 실패는 "Error scanning <path>: <cause>" 로 한 번 보고하고
// 다음 파일로 넘어간다.
func ScanAll(s *Scanner, paths []string, w io.Writer, style Style) Summary {
	var sum Summary
	for _, p := range paths {
		sum.Files++

		res, err := s.Scan(p)
		if err != nil {
			sum.Failed++
			zlog.Warn().Err(err).Str("path", p).Msg("tail scan failed")
			fmt.Fprintf(w, "Error scanning %s: %v\n", p, err)
			continue
		}

		sum.Findings += len(res.Findings)
		if err := Report(w, res, style); err != nil {
			zlog.Error().Err(err).Str("path", p).Msg("tail report write failed")
			return sum
		}
	}
	return sum
}
