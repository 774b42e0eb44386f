package calculator

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

const unreachable = math.MaxInt

type dpCalculator struct {
	maxQuantity  int
	maxPackSizes int
}

// Option configures a Calculator.
type Option func(*dpCalculator)

// WithMaxQuantity rejects orders above limit before any table is allocated.
// A limit of zero disables the check.
func WithMaxQuantity(limit int) Option {
	return func(c *dpCalculator) {
		if limit > 0 {
			c.maxQuantity = limit
		}
	}
}

// WithMaxPackSizes bounds the number of distinct pack sizes a single
// calculation accepts. The work per total grows with the number of sizes, so
// an unbounded set is rejected instead of solved. Zero disables the check.
func WithMaxPackSizes(limit int) Option {
	return func(c *dpCalculator) {
		if limit > 0 {
			c.maxPackSizes = limit
		}
	}
}

// New creates a Calculator based on dynamic programming.
//
// The shipped total is the smallest reachable total that is at least the
// requested quantity, and among breakdowns of that total the one with the
// fewest packs is returned. When several breakdowns use the same number of
// packs, larger pack sizes are preferred.
func New(opts ...Option) Calculator {
	c := &dpCalculator{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *dpCalculator) Calculate(quantity int, packSizes []int) (Result, error) {
	if quantity < 0 {
		return Result{}, ErrInvalidQuantity
	}
	if c.maxQuantity > 0 && quantity > c.maxQuantity {
		return Result{}, fmt.Errorf("%w: %d exceeds the limit of %d", ErrInvalidQuantity, quantity, c.maxQuantity)
	}

	sizes, err := normalizePackSizes(packSizes)
	if err != nil {
		return Result{}, err
	}
	if c.maxPackSizes > 0 && len(sizes) > c.maxPackSizes {
		return Result{}, fmt.Errorf("%w: %d sizes exceed the limit of %d", ErrTooManyPackSizes, len(sizes), c.maxPackSizes)
	}

	result := Result{
		OrderQuantity: quantity,
		Packs:         map[int]int{},
	}
	if quantity == 0 {
		return result, nil
	}

	// Every reachable total is a multiple of the GCD, so the search runs on
	// reduced sizes and a reduced target.
	divisor := gcdOf(sizes)
	reduced := make([]int, len(sizes))
	for i, size := range sizes {
		reduced[i] = size / divisor
	}

	for size, count := range solve(ceilDiv(quantity, divisor), reduced) {
		actual := size * divisor
		result.Packs[actual] = count
		result.TotalItems += actual * count
		result.TotalPacks += count
	}

	return result, nil
}

// solve returns the breakdown for target using sizes sorted in descending
// order. target must be positive.
func solve(target int, sizes []int) map[int]int {
	smallestAbove := 0
	largestBelow := 0
	for _, size := range sizes {
		switch {
		case size == target:
			return map[int]int{size: 1}
		case size > target:
			smallestAbove = size
		case largestBelow == 0:
			largestBelow = size
		}
	}
	if largestBelow == 0 {
		return map[int]int{smallestAbove: 1}
	}

	// Repeating the largest size below target lands in
	// [target, target+largestBelow-1], and a single pack of smallestAbove is
	// always valid, so the optimum never lies past either bound.
	ceiling := target + largestBelow - 1
	if smallestAbove > 0 && smallestAbove < ceiling {
		ceiling = smallestAbove
	}

	candidates := make([]int, 0, len(sizes))
	for _, size := range sizes {
		if size <= ceiling {
			candidates = append(candidates, size)
		}
	}

	minPacks := make([]int, ceiling+1)
	total := ceiling
	for t := 1; t <= ceiling; t++ {
		best := unreachable
		for _, size := range candidates {
			if size > t {
				continue
			}
			if prev := minPacks[t-size]; prev != unreachable && prev+1 < best {
				best = prev + 1
			}
		}
		minPacks[t] = best
		if t >= target && best != unreachable {
			total = t
			break
		}
	}

	return reconstruct(total, candidates, minPacks)
}

// reconstruct walks back from total, taking the largest size that keeps the
// walk on an optimal path.
func reconstruct(total int, sizes []int, minPacks []int) map[int]int {
	counts := make(map[int]int, len(sizes))
	for remaining := total; remaining > 0; {
		want := minPacks[remaining] - 1
		for _, size := range sizes {
			if size <= remaining && minPacks[remaining-size] == want {
				counts[size]++
				remaining -= size
				break
			}
		}
	}
	return counts
}

// normalizePackSizes validates sizes and returns them deduplicated in
// descending order. The input slice is left untouched.
func normalizePackSizes(packSizes []int) ([]int, error) {
	if len(packSizes) == 0 {
		return nil, ErrNoPackSizes
	}

	unique := make(map[int]struct{}, len(packSizes))
	for _, size := range packSizes {
		if size <= 0 {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidPackSizes, size)
		}
		unique[size] = struct{}{}
	}

	normalized := make([]int, 0, len(unique))
	for size := range unique {
		normalized = append(normalized, size)
	}
	slices.SortFunc(normalized, func(a, b int) int { return cmp.Compare(b, a) })

	return normalized, nil
}

func gcdOf(sizes []int) int {
	result := sizes[0]
	for _, size := range sizes[1:] {
		for size != 0 {
			result, size = size, result%size
		}
	}
	return result
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
