package geiger

import (
	"bytes"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// Sample is one accepted reading: the count rate and when it arrived
// relative to the start of the run.
type Sample struct {
	Elapsed time.Duration
	CPM     float64
}

// ParseCPM decodes a raw detector line into a non-negative count rate in
// counts per minute. Surrounding whitespace, including a trailing "\r", is
// ignored. Failures are returned as *ParseError.
func ParseCPM(token []byte) (float64, error) {
	if !utf8.Valid(token) {
		return 0, &ParseError{Token: string(token), Err: errNotUTF8}
	}
	text := string(bytes.TrimSpace(token))
	if text == "" {
		return 0, &ParseError{Token: string(token), Err: errEmpty}
	}
	cpm, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &ParseError{Token: text, Err: errNotNumber}
	}
	if math.IsNaN(cpm) || math.IsInf(cpm, 0) {
		return 0, &ParseError{Token: text, Err: errNotFinite}
	}
	if cpm < 0 {
		return 0, &ParseError{Token: text, Err: errNegative}
	}
	// Normalise "-0".
	return math.Abs(cpm), nil
}

// ParseSample is ParseCPM plus the elapsed time the caller observed when the
// token was accepted.
func ParseSample(token []byte, elapsed time.Duration) (Sample, error) {
	cpm, err := ParseCPM(token)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Elapsed: elapsed, CPM: cpm}, nil
}
