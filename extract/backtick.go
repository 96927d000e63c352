package extract

import (
	"regexp"
	"strings"
)

// backtickLineMatcher implements the line-shape half of classification
// rule 3 (spec.md §4.C3): a line beginning with '`', terminated by
// \r?\n. Token grammar is handled separately by tokenizeBacktick,
// since quote-awareness does not fit cleanly into one regexp.
var backtickLineMatcher = regexp.MustCompile("\\A`([^\n]*?)\r?\n")

// createTypes is the case-insensitive set of window-type keywords that
// make a backtick command a BACKTICK_CREATE rather than an UPDATE.
var createTypes = map[string]bool{
	"term": true, "logic": true, "scope": true, "scope_xy": true,
	"plot": true, "bitmap": true, "midi": true, "fft": true, "spectro": true,
}

// btToken is one token from a backtick command line, tagged with
// whether it came from a double-quoted run (which preserves internal
// spaces/commas) since that tagging is what ends an UPDATE command's
// target-window-list run.
type btToken struct {
	text   string
	quoted bool
}

func isNumericLiteral(tok string) bool {
	if tok == "" {
		return false
	}
	i := 0
	if tok[0] == '-' {
		i = 1
	}
	if i >= len(tok) {
		return false
	}
	return tok[i] >= '0' && tok[i] <= '9'
}

// tokenizeBacktick splits body on whitespace, except inside
// double-quoted runs, which retain internal spaces and commas as a
// single token — the window-name matching the spec calls out as
// "quote-aware".
func tokenizeBacktick(body string) []btToken {
	var tokens []btToken
	i, n := 0, len(body)
	for i < n {
		for i < n && (body[i] == ' ' || body[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}
		if body[i] == '"' {
			j := i + 1
			for j < n && body[j] != '"' {
				j++
			}
			tokens = append(tokens, btToken{text: body[i+1 : j], quoted: true})
			if j < n {
				j++ // consume closing quote
			}
			i = j
			continue
		}
		j := i
		for j < n && body[j] != ' ' && body[j] != '\t' {
			j++
		}
		tokens = append(tokens, btToken{text: body[i:j]})
		i = j
	}
	return tokens
}

// backtickCommand is the parsed result of a backtick line, already
// split into create-vs-update shape per spec.md §4.C3 rule 3.
type backtickCommand struct {
	IsCreate bool
	Type     string   // CREATE only, lower-cased
	Name     string   // CREATE only (t1, may be empty)
	Targets  []string // UPDATE only: window names to dispatch the payload to, in order
	Payload  []string // UPDATE only: tokens from the first quoted/numeric token onward
	Matched  []byte   // full matched bytes, including terminator
}

// matchBacktickLine attempts classification rule 3 against the start
// of buf. ok=false means buf's prefix is not a well-formed backtick
// line (fall through to terminal output).
func matchBacktickLine(buf []byte) (cmd backtickCommand, ok bool) {
	loc := backtickLineMatcher.FindSubmatchIndex(buf)
	if loc == nil {
		return backtickCommand{}, false
	}
	body := string(buf[loc[2]:loc[3]])
	tokens := tokenizeBacktick(body)
	matched := buf[loc[0]:loc[1]]
	if len(tokens) == 0 {
		// A bare backtick line with no tokens is still an UPDATE with
		// an empty name, per the grammar's "t0 is whatever's first".
		return backtickCommand{Targets: nil, Matched: matched}, true
	}

	t0 := tokens[0]
	if createTypes[strings.ToLower(t0.text)] {
		name := ""
		if len(tokens) > 1 {
			name = strings.ToLower(tokens[1].text)
		}
		return backtickCommand{
			IsCreate: true,
			Type:     strings.ToLower(t0.text),
			Name:     name,
			Matched:  matched,
		}, true
	}

	// Window-name matching is case-insensitive (spec.md §9), so target
	// names are folded here, at the same point Type/Name are folded
	// above, rather than relying on every downstream lookup to do it.
	targets := []string{strings.ToLower(t0.text)}
	i := 1
	for ; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.quoted || isNumericLiteral(tok.text) {
			break
		}
		targets = append(targets, strings.ToLower(tok.text))
	}
	var payload []string
	for ; i < len(tokens); i++ {
		payload = append(payload, tokens[i].text)
	}
	return backtickCommand{
		IsCreate: false,
		Targets:  targets,
		Payload:  payload,
		Matched:  matched,
	}, true
}
