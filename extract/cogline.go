package extract

import (
	"regexp"
	"strconv"
)

// cogLineMatcher implements classification rule 2 (spec.md §4.C3):
// "Cog([0-7])  ([^\n]*)\r?\n" — note the two spaces after the digit.
// A single regexp with submatches does the job rather than a
// hand-rolled scanner, the same shape the teacher used for parsing a
// structured "host:minport-maxport" address line. The body is matched
// lazily so a trailing \r stays with the terminator, not the body.
var cogLineMatcher = regexp.MustCompile(`\ACog([0-9]+)  ([^\n]*?)\r?\n`)

// cogLine is a fully matched "CogN  body\r\n" line.
type cogLine struct {
	N       int
	Body    string
	Matched []byte // the full matched bytes, including terminator
}

// matchCogLine attempts classification rule 2 against the start of
// buf. ok=false means buf's prefix is not a well-formed Cog line at
// all (fall through to the next rule); outOfRange=true means the
// digit is outside 0..7 (classified as INVALID_COG, payload retained
// verbatim per spec.md §4.C3).
func matchCogLine(buf []byte) (line cogLine, outOfRange bool, ok bool) {
	loc := cogLineMatcher.FindSubmatchIndex(buf)
	if loc == nil {
		return cogLine{}, false, false
	}

	n, err := strconv.Atoi(string(buf[loc[2]:loc[3]]))
	if err != nil {
		return cogLine{}, false, false
	}

	line = cogLine{
		N:       n,
		Body:    string(buf[loc[4]:loc[5]]),
		Matched: buf[loc[0]:loc[1]],
	}
	if n < 0 || n > 7 {
		return line, true, true
	}
	return line, false, true
}

// goldenSyncMatcher recognizes the body of a P2_SYSTEM_INIT line:
// "INIT $HEXHEX $HEXHEX (load|jump)", emitted as the first Cog0 line
// after a hardware reset.
var goldenSyncMatcher = regexp.MustCompile(`\AINIT \$[0-9A-F_]+ \$[0-9A-F_]+ (load|jump)\z`)

// isGoldenSync reports whether body is a golden-sync INIT body for
// cog 0.
func isGoldenSync(cog int, body string) bool {
	return cog == 0 && goldenSyncMatcher.MatchString(body)
}
