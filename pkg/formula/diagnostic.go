package formula

import (
	"fmt"
	"strings"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Diagnose renders err against the source it came from. Errors that carry a
// position get a header, the offending line with one line of context on
// either side, and the offending token underlined:
//
//	SyntaxError at line 2, column 3: unexpected token RPAREN (")")
//
//	   1 | A=1
//	   2 | B=)
//	     |   ^
//	   3 | C=2
//
// Other errors are returned as their message.
func Diagnose(source string, err error) string {
	if err == nil {
		return ""
	}
	fe, ok := types.AsFormulaError(err)
	if !ok || !fe.Pos.IsValid() {
		return err.Error()
	}
	return snippet(source, fe.Error(), fe.Pos)
}

func snippet(source, header string, pos types.Position) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	source = strings.ReplaceAll(source, "\r", "\n")
	lines := strings.Split(source, "\n")

	line := min(max(pos.Line, 1), len(lines))
	text := []rune(lines[line-1])
	col := min(max(pos.Column, 1), len(text)+1)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", header)
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lines[line-1])
	fmt.Fprintf(&b, "     | %s%s\n", padding(text[:col-1]), underline(pos.Length))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}

// padding keeps tabs so the underline lines up with the source above it.
func padding(prefix []rune) string {
	var sb strings.Builder
	for _, r := range prefix {
		if r == '\t' {
			sb.WriteRune('\t')
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func underline(length int) string {
	if length < 1 {
		length = 1
	}
	return "^" + strings.Repeat("~", length-1)
}
