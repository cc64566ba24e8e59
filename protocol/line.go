package protocol

import (
	"math"
	"strconv"
	"strings"

	"resinctl/standalone"
)

// Command is one parsed command line
type Command struct {
	Keyword string   // upper-cased first field
	Args    []string // remaining fields, trimmed
}

// ParseLine splits a command line into keyword and arguments. It never
// fails; an empty line yields an empty keyword.
func ParseLine(line string) Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}
	}
	fields := strings.Split(line, Separator)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return Command{
		Keyword: strings.ToUpper(fields[0]),
		Args:    fields[1:],
	}
}

// Format renders a command line without the terminator
func Format(keyword string, args ...string) string {
	if len(args) == 0 {
		return keyword
	}
	return keyword + Separator + strings.Join(args, Separator)
}

// FormatFloat renders a numeric argument
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Expect checks the argument count
func (c Command) Expect(n int) error {
	if len(c.Args) != n {
		return &ProtocolError{
			Keyword: c.Keyword,
			Reason:  "expected " + strconv.Itoa(n) + " arguments, got " + strconv.Itoa(len(c.Args)),
		}
	}
	return nil
}

// Float parses argument i as a finite decimal number
func (c Command) Float(i int) (float64, error) {
	if i >= len(c.Args) {
		return 0, &ProtocolError{Keyword: c.Keyword, Reason: "missing argument " + strconv.Itoa(i+1)}
	}
	v, err := strconv.ParseFloat(c.Args[i], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ProtocolError{Keyword: c.Keyword, Reason: "invalid number " + strconv.Quote(c.Args[i])}
	}
	return v, nil
}

// Floats parses arguments from..len(Args)-1 as numbers
func (c Command) Floats(from int) ([]float64, error) {
	out := make([]float64, 0, max(0, len(c.Args)-from))
	for i := from; i < len(c.Args); i++ {
		v, err := c.Float(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Flag parses argument i as a strict 0/1 switch
func (c Command) Flag(i int) (bool, error) {
	if i >= len(c.Args) {
		return false, &ProtocolError{Keyword: c.Keyword, Reason: "missing argument " + strconv.Itoa(i+1)}
	}
	switch c.Args[i] {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, &ProtocolError{Keyword: c.Keyword, Reason: "expected 0 or 1, got " + strconv.Quote(c.Args[i])}
	}
}

// Axis returns argument i as an axis identifier
func (c Command) Axis(i int) standalone.AxisID {
	if i >= len(c.Args) {
		return ""
	}
	return standalone.ParseAxisID(c.Args[i])
}
