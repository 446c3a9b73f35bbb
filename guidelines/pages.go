package guidelines

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePages expands a page selection like "1,3,5-7" against a document with
// total pages. Negative numbers index from the end (-1 is the last page). An
// empty spec selects every page. Returned page numbers are 1-based, in the
// order listed, with duplicates removed.
func ParsePages(spec string, total int) ([]int, error) {
	if total <= 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	if strings.TrimSpace(spec) == "" {
		all := make([]int, total)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}

	var out []int
	seen := make(map[int]bool)
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		lo, hi, err := parsePageToken(tok, total)
		if err != nil {
			return nil, err
		}
		for p := lo; p <= hi; p++ {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("page selection %q matches no pages", spec)
	}
	return out, nil
}

// parsePageToken resolves one comma-separated token: a single page or an
// inclusive range. The range separator is the first '-' past position zero so
// negative endpoints like "-3--1" parse.
func parsePageToken(tok string, total int) (lo, hi int, err error) {
	if sep := strings.Index(tok[1:], "-"); sep >= 0 {
		loStr := tok[:sep+1]
		hiStr := tok[sep+2:]
		lo, err = resolvePage(loStr, total)
		if err != nil {
			return 0, 0, err
		}
		hi, err = resolvePage(hiStr, total)
		if err != nil {
			return 0, 0, err
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("page range %q is reversed", tok)
		}
		return lo, hi, nil
	}
	p, err := resolvePage(tok, total)
	if err != nil {
		return 0, 0, err
	}
	return p, p, nil
}

// resolvePage converts one page token to a 1-based page number, applying
// negative indexing from the end.
func resolvePage(s string, total int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	if n < 0 {
		n = total + n + 1
	}
	if n < 1 || n > total {
		return 0, fmt.Errorf("page %s out of range 1..%d", s, total)
	}
	return n, nil
}
