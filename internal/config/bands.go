package config

import "fmt"

// Band is one breakpoint of a BandTable.
type Band struct {
	Bound float64 `yaml:"bound"`
	Score int     `yaml:"score"`
}

// BandTable maps a measurement onto a 0-100 score through ordered breakpoints.
// Tables read with AtLeast list bounds high to low; tables read with Below
// list them low to high. Fallback applies when no band matches.
type BandTable struct {
	Bands    []Band `yaml:"bands"`
	Fallback int    `yaml:"fallback"`
}

// AtLeast returns the score of the first band whose bound is <= x.
func (t BandTable) AtLeast(x float64) int {
	for _, b := range t.Bands {
		if x >= b.Bound {
			return b.Score
		}
	}
	return t.Fallback
}

// Below returns the score of the first band whose bound is > x.
func (t BandTable) Below(x float64) int {
	for _, b := range t.Bands {
		if x < b.Bound {
			return b.Score
		}
	}
	return t.Fallback
}

func (t BandTable) validate(descending bool) error {
	if len(t.Bands) == 0 {
		return fmt.Errorf("no bands")
	}
	if t.Fallback < 0 || t.Fallback > 100 {
		return fmt.Errorf("fallback %d outside [0,100]", t.Fallback)
	}
	for i, b := range t.Bands {
		if b.Score < 0 || b.Score > 100 {
			return fmt.Errorf("band %d score %d outside [0,100]", i, b.Score)
		}
		if i == 0 {
			continue
		}
		prev := t.Bands[i-1].Bound
		if descending && b.Bound >= prev {
			return fmt.Errorf("bounds must be strictly descending")
		}
		if !descending && b.Bound <= prev {
			return fmt.Errorf("bounds must be strictly ascending")
		}
	}
	return nil
}
