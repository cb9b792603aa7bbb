// Package symbols encodes and decodes B3 option symbol conventions.
//
// A broker symbol is TICKER_BASE (4-5 letters) + TYPE_CODE (one letter) +
// STRIKE_DIGITS + optional suffix. Type codes A-L are calls for months 1-12,
// M-X are puts for months 1-12. Expiration is the third Friday of the encoded
// month.
package symbols

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Decode/encode failure modes.
var (
	// ErrInvalidFormat means the symbol does not match the B3 option shape
	ErrInvalidFormat = errors.New("invalid option symbol format")
	// ErrInvalidTypeCode means the month letter is outside A-X
	ErrInvalidTypeCode = errors.New("invalid option type code")
	// ErrInvalidOptionType means the side is not CALL or PUT
	ErrInvalidOptionType = errors.New("invalid option type")
	// ErrMonthOutOfRange means the expiration month is not in 1-12
	ErrMonthOutOfRange = errors.New("expiration month out of range")
)

// defaultTickerTable maps ticker bases to the full listed ticker. Unknown
// bases default to base+"3" (the common ON share class).
var defaultTickerTable = map[string]string{
	"VALE":  "VALE3",
	"PETR":  "PETR4",
	"BOVA":  "BOVA11",
	"ITUB":  "ITUB4",
	"BBDC":  "BBDC4",
	"BBAS":  "BBAS3",
	"ABEV":  "ABEV3",
	"MGLU":  "MGLU3",
	"WEGE":  "WEGE3",
	"PRIO":  "PRIO3",
	"SUZB":  "SUZB3",
	"BBSE":  "BBSE3",
	"CSAN":  "CSAN3",
	"EQTL":  "EQTL3",
	"RENT":  "RENT3",
	"LREN":  "LREN3",
	"RADL":  "RADL3",
	"HAPV":  "HAPV3",
	"PETRO": "PETR4",
}

// Decoded is the contract identity recovered from a broker symbol.
type Decoded struct {
	Symbol     string
	Base       string
	Ticker     string
	Side       OptionSideRef
	Month      time.Month
	Strike     float64
	Expiration time.Time
	Suffix     string
}

// OptionSideRef mirrors models.OptionSide without importing it; the bridge
// layer converts at the boundary.
type OptionSideRef string

const (
	// Call contract
	Call OptionSideRef = "CALL"
	// Put contract
	Put OptionSideRef = "PUT"
)

// Mapper performs bidirectional symbol translation. The zero value is not
// usable; construct with NewMapper.
type Mapper struct {
	table   map[string]string // base -> full ticker
	reverse map[string]string // full ticker -> base
	now     func() time.Time
}

// NewMapper creates a Mapper with the default ticker table.
func NewMapper() *Mapper {
	return NewMapperWithTable(defaultTickerTable, time.Now)
}

// NewMapperWithTable creates a Mapper with a custom ticker table and clock.
func NewMapperWithTable(table map[string]string, now func() time.Time) *Mapper {
	m := &Mapper{
		table:   make(map[string]string, len(table)),
		reverse: make(map[string]string, len(table)),
		now:     now,
	}
	for base, full := range table {
		m.table[base] = full
		// Prefer the shortest base when several map to one ticker.
		if prev, ok := m.reverse[full]; !ok || len(base) < len(prev) ||
			(len(base) == len(prev) && base < prev) {
			m.reverse[full] = base
		}
	}
	return m
}

// Decode parses a broker option symbol into its contract identity. When year
// is zero the expiration year is inferred from the current date: months
// earlier than the current month roll to next year.
func (m *Mapper) Decode(symbol string, year int) (*Decoded, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) < 6 {
		return nil, fmt.Errorf("%w: %q too short", ErrInvalidFormat, symbol)
	}

	// Leading letter run: 4-5 base letters plus one type code letter.
	letters := 0
	for letters < len(s) && s[letters] >= 'A' && s[letters] <= 'Z' {
		letters++
	}
	if letters < 5 || letters > 6 {
		return nil, fmt.Errorf("%w: %q letter prefix must be 5-6 chars", ErrInvalidFormat, symbol)
	}

	base := s[:letters-1]
	typeCode := s[letters-1]

	// Strike digit run.
	digitEnd := letters
	for digitEnd < len(s) && s[digitEnd] >= '0' && s[digitEnd] <= '9' {
		digitEnd++
	}
	if digitEnd == letters {
		return nil, fmt.Errorf("%w: %q has no strike digits", ErrInvalidFormat, symbol)
	}

	suffix := s[digitEnd:]
	for _, c := range suffix {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return nil, fmt.Errorf("%w: %q has invalid suffix", ErrInvalidFormat, symbol)
		}
	}

	side, month, err := decodeTypeCode(typeCode)
	if err != nil {
		return nil, err
	}

	digits, err := strconv.Atoi(s[letters:digitEnd])
	if err != nil {
		return nil, fmt.Errorf("%w: %q strike digits", ErrInvalidFormat, symbol)
	}
	strike := decodeStrike(digits)

	ticker, ok := m.table[base]
	if !ok {
		ticker = base + "3"
	}

	expiration := m.expirationFor(month, year)

	return &Decoded{
		Symbol:     s,
		Base:       base,
		Ticker:     ticker,
		Side:       side,
		Month:      month,
		Strike:     strike,
		Expiration: expiration,
		Suffix:     suffix,
	}, nil
}

// Encode builds the broker symbol for a contract identity.
func (m *Mapper) Encode(ticker string, strike float64, side OptionSideRef, expiration time.Time) (string, error) {
	return m.EncodeMonth(ticker, strike, side, int(expiration.Month()))
}

// EncodeMonth builds the broker symbol from an explicit expiration month.
func (m *Mapper) EncodeMonth(ticker string, strike float64, side OptionSideRef, month int) (string, error) {
	if month < 1 || month > 12 {
		return "", fmt.Errorf("%w: %d", ErrMonthOutOfRange, month)
	}

	var typeCode byte
	switch side {
	case Call:
		typeCode = byte('A' + month - 1)
	case Put:
		typeCode = byte('M' + month - 1)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOptionType, side)
	}

	base := m.baseFor(ticker)
	return fmt.Sprintf("%s%c%d", base, typeCode, encodeStrike(strike)), nil
}

// baseFor reverses the ticker table; unknown tickers drop trailing digits.
func (m *Mapper) baseFor(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if base, ok := m.reverse[t]; ok {
		return base
	}
	return strings.TrimRight(t, "0123456789")
}

// expirationFor resolves the third Friday of the decoded month. With no
// explicit year, months already past roll into next year.
func (m *Mapper) expirationFor(month time.Month, year int) time.Time {
	if year == 0 {
		now := m.now().UTC()
		year = now.Year()
		if month < now.Month() {
			year++
		}
	}
	return ThirdFriday(year, month)
}

// ThirdFriday returns the third Friday of the given month at UTC midnight.
func ThirdFriday(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}

// decodeTypeCode maps A-L to call months and M-X to put months.
func decodeTypeCode(c byte) (OptionSideRef, time.Month, error) {
	switch {
	case c >= 'A' && c <= 'L':
		return Call, time.Month(c - 'A' + 1), nil
	case c >= 'M' && c <= 'X':
		return Put, time.Month(c - 'M' + 1), nil
	default:
		return "", 0, fmt.Errorf("%w: %c", ErrInvalidTypeCode, c)
	}
}

// decodeStrike applies the digit heuristic: values of 1000 or more carry two
// implied decimal places, smaller values are half-point encoded. Both
// branches are load-bearing for listed B3 series; do not "fix" one without
// the other.
func decodeStrike(digits int) float64 {
	if digits >= 1000 {
		return float64(digits) / 100
	}
	return float64(digits) / 2
}

// encodeStrike mirrors decodeStrike.
func encodeStrike(strike float64) int {
	cents := int(math.Round(strike * 100))
	if cents >= 1000 {
		return cents
	}
	return int(math.Round(strike * 2))
}
