// Package parser turns the semi-structured text the model returns into typed
// values. Every function here fails soft: a value that cannot be read becomes
// domain.Unknown or 0.0 and the problem is logged, never returned.
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/rs/zerolog"
)

const (
	productMarker     = "Product:"
	priceMarker       = "Price:"
	descriptionMarker = "Description:"
	confidenceMarker  = "Confidence:"
	reasonMarker      = "Reason:"
	monthlySuffix     = "/month"
)

// priceNoise is removed from price text before any numeric parsing.
var priceNoise = strings.NewReplacer("$", "", "£", "", "€", "", "~", "", "≈", "")

// Parser wraps the parse functions with a logger for soft failures.
type Parser struct {
	log zerolog.Logger
}

// New creates a Parser that reports soft failures to log.
func New(log zerolog.Logger) *Parser {
	return &Parser{log: log}
}

// ExtractField returns the value of the first line mentioning field, or
// domain.Unknown.
func (p *Parser) ExtractField(text, field string) string {
	res := ExtractFieldResult(text, field)
	if res.Status == Invalid {
		p.log.Debug().Str("field", field).Msg("field line has no value separator")
	}
	return res.Value
}

// ParsePrice reads a price that may be a range, approximate, or monthly.
// It returns 0.0 when nothing numeric can be read; 0.0 means "unparsed".
func (p *Parser) ParsePrice(text string) float64 {
	res := ParsePriceResult(text)
	if res.Status == Invalid {
		p.log.Warn().Err(res.Err).Str("price_text", text).Msg("could not parse price")
	}
	return res.Value
}

// CompetitorPrice re-reads a competitor's free-form price as a number.
func (p *Parser) CompetitorPrice(cp domain.CompetitorProduct) float64 {
	return p.ParsePrice(cp.Price)
}

// ParseProductMatches reads every "Product:" block in text. Blocks without a
// name or a "Price:" line are skipped.
func (p *Parser) ParseProductMatches(text string) []domain.ProductMatch {
	sections := strings.Split(text, productMarker)
	if len(sections) < 2 {
		return nil
	}

	matches := make([]domain.ProductMatch, 0, len(sections)-1)
	for i, section := range sections[1:] {
		match, err := p.parseProductBlock(section)
		if err != nil {
			p.log.Warn().Err(err).Int("block", i).Msg("skipping malformed product block")
			continue
		}
		matches = append(matches, match)
	}
	return matches
}

func (p *Parser) parseProductBlock(section string) (domain.ProductMatch, error) {
	lines := nonEmptyLines(section)
	if len(lines) == 0 {
		return domain.ProductMatch{}, fmt.Errorf("empty block")
	}
	if len(lines) < 2 || !strings.Contains(lines[1], priceMarker) {
		return domain.ProductMatch{}, fmt.Errorf("block %q has no price line", lines[0])
	}

	match := domain.ProductMatch{
		Name:            lines[0],
		Price:           p.ParsePrice(after(lines[1], priceMarker)),
		Description:     domain.Unknown,
		ConfidenceScore: 0,
		MatchReason:     domain.Unknown,
	}

	if v, ok := findMarked(lines, descriptionMarker); ok && v != "" {
		match.Description = v
	}
	if v, ok := findMarked(lines, reasonMarker); ok && v != "" {
		match.MatchReason = v
	}
	if v, ok := findMarked(lines, confidenceMarker); ok {
		score, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "%")), 64)
		if err != nil {
			p.log.Warn().Str("confidence", v).Str("product", match.Name).Msg("could not parse confidence")
		} else {
			match.ConfidenceScore = clamp(score, 0, 100)
		}
	}

	return match, nil
}

// ExtractFieldResult scans text line by line for the first line containing
// field (case-insensitive) and returns what follows the first colon.
func ExtractFieldResult(text, field string) Result[string] {
	needle := strings.ToLower(field)
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			return Result[string]{Value: domain.Unknown, Status: Invalid,
				Err: fmt.Errorf("line for %q has no colon", field)}
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return Result[string]{Value: domain.Unknown, Status: Absent}
		}
		return Result[string]{Value: value, Status: Found}
	}
	return Result[string]{Value: domain.Unknown, Status: Absent}
}

// ParsePriceResult is ParsePrice without logging.
func ParsePriceResult(text string) Result[float64] {
	s := strings.TrimSpace(priceNoise.Replace(text))
	if s == "" {
		return Result[float64]{Status: Absent}
	}

	if strings.Contains(s, "-") {
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			return invalidPrice(text, fmt.Errorf("expected one range separator, got %d", len(parts)-1))
		}
		low, err := parseNumeric(parts[0])
		if err != nil {
			return invalidPrice(text, err)
		}
		high, err := parseNumeric(parts[1])
		if err != nil {
			return invalidPrice(text, err)
		}
		return Result[float64]{Value: (low + high) / 2, Status: Found}
	}

	if idx := strings.Index(s, monthlySuffix); idx != -1 {
		s = s[:idx]
	}

	v, err := parseNumeric(s)
	if err != nil {
		return invalidPrice(text, err)
	}
	return Result[float64]{Value: v, Status: Found}
}

func invalidPrice(text string, err error) Result[float64] {
	return Result[float64]{Status: Invalid, Err: fmt.Errorf("parse price %q: %w", text, err)}
}

// parseNumeric keeps only digits and decimal points, then parses a float.
func parseNumeric(s string) (float64, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return strconv.ParseFloat(b.String(), 64)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// findMarked returns the text after marker on the first line containing it.
func findMarked(lines []string, marker string) (string, bool) {
	for _, line := range lines {
		if strings.Contains(line, marker) {
			return after(line, marker), true
		}
	}
	return "", false
}

func after(line, marker string) string {
	_, v, _ := strings.Cut(line, marker)
	return strings.TrimSpace(v)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
