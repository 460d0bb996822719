package domain

import (
	"regexp"
	"strconv"
	"strings"
)

type CardType string

const (
	Visa       CardType = "VISA"
	Mastercard CardType = "MASTERCARD"
	Unknown    CardType = "UNKNOWN"
)

var (
	visaPattern       = regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3})?$`)
	mastercardPattern = regexp.MustCompile(`^5[1-5][0-9]{14}$`)
	last4Pattern      = regexp.MustCompile(`^[0-9]{4}$`)
)

// Instrument describes the card a payment was made with. Only the last four
// digits are ever stored.
type Instrument struct {
	Last4  string `json:"card_last4"`
	Holder string `json:"card_holder"`
}

// NewInstrument validates a stored card suffix and holder name.
func NewInstrument(last4, holder string) (Instrument, error) {
	holder = strings.TrimSpace(holder)
	if !last4Pattern.MatchString(last4) {
		return Instrument{}, NewError(KindInvalidInput, "card_last4 must be exactly 4 digits")
	}
	if holder == "" {
		return Instrument{}, NewError(KindInvalidInput, "card_holder is required")
	}
	if len(holder) > 255 {
		return Instrument{}, NewError(KindInvalidInput, "card_holder is too long")
	}
	return Instrument{Last4: last4, Holder: holder}, nil
}

// InstrumentFromCard accepts a full card number, checks it, and keeps only
// its last four digits.
func InstrumentFromCard(number, holder string) (Instrument, CardType, error) {
	valid, brand := ValidateCard(number)
	if !valid {
		return Instrument{}, Unknown, NewError(KindInvalidInput, "invalid card: only Visa and Mastercard are accepted")
	}
	clean := cleanCardNumber(number)
	inst, err := NewInstrument(clean[len(clean)-4:], holder)
	return inst, brand, err
}

// ValidateCard checks if the card is valid and allowed
func ValidateCard(number string) (bool, CardType) {
	clean := cleanCardNumber(number)

	if !passesLuhn(clean) {
		return false, Unknown
	}

	switch {
	case visaPattern.MatchString(clean):
		return true, Visa
	case mastercardPattern.MatchString(clean):
		return true, Mastercard
	}
	return false, Unknown
}

func cleanCardNumber(number string) string {
	clean := strings.ReplaceAll(number, " ", "")
	return strings.ReplaceAll(clean, "-", "")
}

// passesLuhn implements the standard Mod 10 check used by all banks
func passesLuhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(string(number[i]))
		if err != nil {
			return false
		}
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}
