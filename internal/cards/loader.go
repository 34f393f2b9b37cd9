package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
)

// ParseCards decodes a JSON array of cards and drops records without a code.
func ParseCards(reader io.Reader) ([]Card, error) {
	var decoded []Card
	if err := json.NewDecoder(reader).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("cards: decode: %w", err)
	}
	result := make([]Card, 0, len(decoded))
	for _, card := range decoded {
		if card.Validate() != nil {
			continue
		}
		result = append(result, card)
	}
	return result, nil
}

// ParseTabooSets decodes a JSON array of taboo sets.
func ParseTabooSets(reader io.Reader) ([]TabooSet, error) {
	var sets []TabooSet
	if err := json.NewDecoder(reader).Decode(&sets); err != nil {
		return nil, fmt.Errorf("cards: decode taboo sets: %w", err)
	}
	return sets, nil
}

// LoadCardFiles parses every file concurrently and concatenates the results in
// argument order.
func LoadCardFiles(ctx context.Context, paths ...string) ([]Card, error) {
	parsed := make([][]Card, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, path := range paths {
		index, path := index, path
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			cards, err := parseCardFile(path)
			if err != nil {
				return err
			}
			parsed[index] = cards
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []Card
	for _, cards := range parsed {
		all = append(all, cards...)
	}
	return all, nil
}

func parseCardFile(path string) ([]Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cards, err := ParseCards(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cards, nil
}

// LoadTabooFile parses a taboo set file.
func LoadTabooFile(path string) ([]TabooSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseTabooSets(file)
}
