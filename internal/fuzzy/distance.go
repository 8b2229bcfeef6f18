package fuzzy

// DamerauLevenshtein returns the unrestricted Damerau–Levenshtein distance
// between a and b, counted in runes: the minimum number of insertions,
// deletions, substitutions and transpositions of adjacent runes needed to turn
// a into b. Unlike optimal string alignment, a transposed pair may be edited
// again, so DamerauLevenshtein("ca", "abc") is 2.
func DamerauLevenshtein(a, b string) int {
	return distance([]rune(a), []rune(b))
}

// distance implements the Lowrance–Wagner recurrence. The table is padded by
// one row and column holding maxDist so transposition lookups never need a
// bounds check.
func distance(a, b []rune) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	maxDist := la + lb
	w := lb + 2
	h := make([]int, (la+2)*w)

	h[0] = maxDist
	for i := 0; i <= la; i++ {
		h[(i+1)*w] = maxDist
		h[(i+1)*w+1] = i
	}
	for j := 0; j <= lb; j++ {
		h[j+1] = maxDist
		h[w+j+1] = j
	}

	// lastRow[r] is the last row (1-based) of a in which rune r occurred.
	lastRow := make(map[rune]int, la)

	for i := 1; i <= la; i++ {
		lastCol := 0
		for j := 1; j <= lb; j++ {
			i1 := lastRow[b[j-1]]
			j1 := lastCol

			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
				lastCol = j
			}

			h[(i+1)*w+j+1] = min(
				h[i*w+j]+cost,  // substitution
				h[(i+1)*w+j]+1, // insertion
				h[i*w+j+1]+1,   // deletion
				h[i1*w+j1]+(i-i1-1)+1+(j-j1-1), // transposition
			)
		}
		lastRow[a[i-1]] = i
	}

	return h[(la+1)*w+lb+1]
}

// commonPrefix returns the number of leading runes shared by a and b.
func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
