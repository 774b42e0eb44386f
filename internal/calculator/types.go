package calculator

// Result describes the pack breakdown chosen for an order.
// Packs only contains sizes with a positive count. TotalItems and TotalPacks
// are derived from Packs and returned so callers don't have to recompute them.
type Result struct {
	OrderQuantity int
	Packs         map[int]int
	TotalItems    int
	TotalPacks    int
}

// Calculator describes the behaviour required from a pack calculator.
type Calculator interface {
	Calculate(quantity int, packSizes []int) (Result, error)
}
