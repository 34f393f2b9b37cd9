package decks

import "sort"

// Slots maps card codes to included quantities. Non-positive quantities are treated
// as absent.
type Slots map[string]int

// Quantity returns the included copies of code.
func (s Slots) Quantity(code string) int {
	if quantity := s[code]; quantity > 0 {
		return quantity
	}
	return 0
}

// Total sums every positive quantity.
func (s Slots) Total() int {
	total := 0
	for _, quantity := range s {
		if quantity > 0 {
			total += quantity
		}
	}
	return total
}

// Codes returns the included codes in ascending order.
func (s Slots) Codes() []string {
	codes := make([]string, 0, len(s))
	for code, quantity := range s {
		if quantity > 0 {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Clone returns a copy holding only the positive quantities. The result is never nil.
func (s Slots) Clone() Slots {
	clone := make(Slots, len(s))
	for code, quantity := range s {
		if quantity > 0 {
			clone[code] = quantity
		}
	}
	return clone
}
