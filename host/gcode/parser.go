// Package gcode turns G-code text into move requests for the motion core
package gcode

import "strconv"

// Command is one parsed G-code line
type Command struct {
	Type       byte             // 'G', 'M', 'T', or 0 for a comment-only line
	Number     int              // Command number (e.g., 0 for G0, 92 for G92)
	Parameters map[byte]float64 // Parameters (X, Y, Z, E, F, S, etc.)
	Comment    string
	Line       int
}

// Parser handles G-code parsing
type Parser struct {
	line int
}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Blank lines return nil.
func (p *Parser) ParseLine(line string) (*Command, error) {
	p.line++
	if len(line) == 0 {
		return nil, nil
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
		Line:       p.line,
	}

	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}

	if isCommentStart(line[i]) {
		cmd.Comment = line[i:]
		return cmd, nil
	}

	// Line numbers (N123) are accepted and ignored
	if toUpper(line[i]) == 'N' {
		if _, next := parseInt(line, i+1); next > i+1 {
			i = skipSpace(line, next)
		}
	}

	if i < len(line) && isCommandLetter(line[i]) {
		cmd.Type = toUpper(line[i])
		i++

		num, next := parseInt(line, i)
		if next <= i {
			return nil, &SyntaxError{Line: p.line, Msg: "missing command number"}
		}
		cmd.Number = num
		i = next
	}

	for i < len(line) {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}
		if isCommentStart(line[i]) {
			cmd.Comment = line[i:]
			break
		}
		if line[i] == '*' {
			// checksum
			break
		}

		if !isLetter(line[i]) {
			return nil, &SyntaxError{Line: p.line, Msg: "unexpected character " + string(line[i])}
		}
		letter := toUpper(line[i])
		i++

		value, next := parseFloat(line, i)
		if next > i {
			cmd.Parameters[letter] = value
			i = next
		} else {
			// bare flag such as "G28 X"
			cmd.Parameters[letter] = 0
		}
	}

	return cmd, nil
}

// SyntaxError reports a malformed line
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return "gcode line " + strconv.Itoa(e.Line) + ": " + e.Msg
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\r') {
		pos++
	}
	return pos
}

func isCommentStart(c byte) bool {
	return c == ';' || c == '('
}

func isCommandLetter(c byte) bool {
	switch toUpper(c) {
	case 'G', 'M', 'T':
		return true
	}
	return false
}

// parseInt parses an integer from the string starting at pos
func parseInt(s string, pos int) (int, int) {
	if pos >= len(s) {
		return 0, pos
	}

	start := pos
	negative := false
	if s[pos] == '-' || s[pos] == '+' {
		negative = s[pos] == '-'
		pos++
	}

	digits := pos
	value := 0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}
	if pos == digits {
		return 0, start
	}

	if negative {
		value = -value
	}
	return value, pos
}

// parseFloat parses a decimal number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	start := pos
	if pos < len(s) && (s[pos] == '-' || s[pos] == '+') {
		pos++
	}
	digits := 0
	for pos < len(s) && (s[pos] >= '0' && s[pos] <= '9' || s[pos] == '.') {
		if s[pos] != '.' {
			digits++
		}
		pos++
	}
	if digits == 0 {
		return 0, start
	}

	value, err := strconv.ParseFloat(s[start:pos], 64)
	if err != nil {
		return 0, start
	}
	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
