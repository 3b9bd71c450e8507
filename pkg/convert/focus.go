package convert

// FocusOrder returns the pages of [start, end) in the order focus,
// focus+1, focus-1, focus+2, focus-2 and so on. Pages outside the range
// are skipped; at most 2*(end-start) offsets are tried.
func FocusOrder(start, end, focus int) []int {
	n := end - start
	if n <= 0 {
		return nil
	}
	order := make([]int, 0, n)
	for step := 0; step < 2*n; step++ {
		off := (step + 1) / 2
		if step%2 == 0 {
			off = -off
		}
		if p := focus + off; p >= start && p < end {
			order = append(order, p)
		}
	}
	return order
}
