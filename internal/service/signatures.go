package service

import (
	"regexp"
	"slices"
	"strings"
)

const (
	signatureSeparator   = " | "
	maxStructureLines    = 3
	maxStructureLineLen  = 80
	maxSignatureEndpoint = 2
)

var (
	testDefPattern    = regexp.MustCompile(`^(?:async\s+)?def\s+(test_\w*)`)
	commentPattern    = regexp.MustCompile(`(?m)#.*$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	quotedPattern     = regexp.MustCompile(`["'][^"']*["']`)
	numberPattern     = regexp.MustCompile(`\b\d+\b`)
	varNamePattern    = regexp.MustCompile(`\b(?:response|result|data|user|item|obj)\d*\b`)
	httpVerbPattern   = regexp.MustCompile(`(?i)\.(get|post|put|patch|delete|head|options)\s*\(`)
	endpointPattern   = regexp.MustCompile(`["']/([^"'\s]+)["']`)
)

// lastErrorLine is the last non-blank line of an error text, trimmed. Pytest puts the
// exception and its message there.
func lastErrorLine(errorText string) string {
	lines := strings.Split(strings.TrimSpace(errorText), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}

// ClassificationSignature reduces an error and the failing test to the text the classification
// cache is keyed by: the last error line followed by up to three characteristic code lines
// (the test declaration, assert lines, lines that raise or name an Error).
func ClassificationSignature(errorText, code string) string {
	structure := make([]string, 0, maxStructureLines)

	for _, line := range strings.Split(code, "\n") {
		if len(structure) == maxStructureLines {
			break
		}

		line = strings.TrimSpace(line)

		switch {
		case testDefPattern.MatchString(line):
			name, _, _ := strings.Cut(line, "(")
			structure = append(structure, name)
		case strings.HasPrefix(line, "assert "):
			structure = append(structure, truncateRunes(line, maxStructureLineLen))
		case strings.Contains(line, "raise") || strings.Contains(line, "Error"):
			structure = append(structure, truncateRunes(line, maxStructureLineLen))
		}
	}

	return lastErrorLine(errorText) + signatureSeparator + strings.Join(structure, signatureSeparator)
}

// HealingSignature keys the healing knowledge base: last error line and test name.
func HealingSignature(errorText, code string) string {
	return lastErrorLine(errorText) + signatureSeparator + TestName(code)
}

// TestName returns the name of the first test function declared in code, or "".
func TestName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		if m := testDefPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return m[1]
		}
	}

	return ""
}

// ErrorType is the exception name of an error text ("AssertionError" for
// "AssertionError: status_code == 200"), or "unknown".
func ErrorType(errorText string) string {
	line := lastErrorLine(errorText)
	if line == "" {
		return "unknown"
	}

	name, _, _ := strings.Cut(line, ":")
	if name = strings.TrimSpace(name); name == "" || strings.ContainsAny(name, " \t") {
		return "unknown"
	}

	return name
}

// NormalizeTestCode abstracts incidental detail out of test code: comments are dropped,
// whitespace collapsed, string literals become "STR", standalone integers NUM and
// common throwaway variable names VAR.
func NormalizeTestCode(code string) string {
	code = commentPattern.ReplaceAllString(code, "")
	code = whitespacePattern.ReplaceAllString(code, " ")
	code = quotedPattern.ReplaceAllString(code, `"STR"`)
	code = numberPattern.ReplaceAllString(code, "NUM")
	code = varNamePattern.ReplaceAllString(code, "VAR")

	return strings.TrimSpace(code)
}

// HTTPVerbs returns the sorted set of HTTP client methods called in code (lowercase).
func HTTPVerbs(code string) []string {
	var verbs []string

	for _, m := range httpVerbPattern.FindAllStringSubmatch(code, -1) {
		verbs = append(verbs, strings.ToLower(m[1]))
	}

	slices.Sort(verbs)

	return slices.Compact(verbs)
}

// Endpoints returns up to two distinct quoted URL paths referenced in code, in order of appearance.
func Endpoints(code string) []string {
	var out []string

	for _, m := range endpointPattern.FindAllStringSubmatch(code, -1) {
		ep := "/" + m[1]
		if slices.Contains(out, ep) {
			continue
		}

		out = append(out, ep)
		if len(out) == maxSignatureEndpoint {
			break
		}
	}

	return out
}

// DedupSignature keys the test-duplicate index: the test name as words, the normalized body,
// then the HTTP verbs and endpoints the test touches.
func DedupSignature(testName, code string) string {
	name := strings.ReplaceAll(strings.ReplaceAll(testName, "test_", ""), "_", " ")

	elements := []string{name, NormalizeTestCode(code)}
	elements = append(elements, HTTPVerbs(code)...)
	elements = append(elements, Endpoints(code)...)

	return strings.Join(elements, signatureSeparator)
}

// TestBlock is one top-level test function cut out of a test file.
type TestBlock struct {
	Name string
	Code string
}

// SplitTestBlocks cuts a Python test file into its header (imports, fixtures and helpers before
// the first test) and top-level test functions. A block starts at a column-0 `def test_` or
// `async def test_` line, including any decorators directly above it, and ends where the next
// block starts. Tests nested in classes stay inside the enclosing block.
func SplitTestBlocks(code string) (string, []TestBlock) {
	lines := strings.SplitAfter(code, "\n")

	var starts []int

	for i, line := range lines {
		if !testDefPattern.MatchString(line) {
			continue
		}

		start := i
		for start > 0 && strings.HasPrefix(lines[start-1], "@") {
			start--
		}

		starts = append(starts, start)
	}

	if len(starts) == 0 {
		return code, nil
	}

	header := strings.Join(lines[:starts[0]], "")
	blocks := make([]TestBlock, 0, len(starts))

	for i, start := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}

		text := strings.Join(lines[start:end], "")
		blocks = append(blocks, TestBlock{Name: TestName(text), Code: text})
	}

	return header, blocks
}

// NodeTestName is the test function a pytest node id names, without class path or parameters:
// "tests/test_api.py::TestUsers::test_get[1]" names "test_get". It is "" for a bare file.
func NodeTestName(testID string) string {
	_, rest, ok := strings.Cut(testID, "::")
	if !ok {
		return ""
	}

	if i := strings.LastIndex(rest, "::"); i >= 0 {
		rest = rest[i+2:]
	}

	name, _, _ := strings.Cut(rest, "[")

	return name
}

// TestBlockOf returns the top-level test function name of a test file. When name is empty or
// not declared at the top level the whole file is returned.
func TestBlockOf(file, name string) string {
	if name == "" {
		return file
	}

	_, blocks := SplitTestBlocks(file)
	for _, b := range blocks {
		if b.Name == name {
			return b.Code
		}
	}

	return file
}

// ReplaceTestBlock returns file with the top-level test function name replaced by block, leaving
// the header and every other test untouched. When file declares no such test, block replaces
// the whole file.
func ReplaceTestBlock(file, name, block string) string {
	if name == "" {
		return block
	}

	header, blocks := SplitTestBlocks(file)

	var (
		b     strings.Builder
		found bool
	)

	b.WriteString(header)

	for _, tb := range blocks {
		if tb.Name != name || found {
			b.WriteString(tb.Code)

			continue
		}

		found = true

		b.WriteString(block)

		if strings.HasSuffix(tb.Code, "\n") && !strings.HasSuffix(block, "\n") {
			b.WriteString("\n")
		}
	}

	if !found {
		return block
	}

	return b.String()
}
