package services

import (
	"sort"
	"strings"

	"canna-directory/models"
)

const (
	maxCompareRunes = 100

	titleWeight       = 0.5
	descriptionWeight = 0.2
	keyOverlapWeight  = 0.3
)

// StringSimilarity liefert 1 - levenshtein/maxLen über höchstens die ersten 100 Zeichen.
func StringSimilarity(a, b string) float64 {
	ra := truncateRunes(strings.ToLower(strings.TrimSpace(a)))
	rb := truncateRunes(strings.ToLower(strings.TrimSpace(b)))
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// KeyOverlap ist der Jaccard-Index der additionalFields-Schlüssel.
func KeyOverlap(a, b map[string]any) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// ItemSimilarity gewichtet Titel, Beschreibung und Schlüsselüberlappung.
func ItemSimilarity(a, b models.DirectoryItem) float64 {
	return titleWeight*StringSimilarity(a.Title, b.Title) +
		descriptionWeight*StringSimilarity(a.Description, b.Description) +
		keyOverlapWeight*KeyOverlap(a.AdditionalFields, b.AdditionalFields)
}

// GroupFuzzyDuplicates bildet gierig Gruppen ähnlicher Einträge innerhalb derselben Kategorie.
// Jeder Eintrag gehört höchstens zu einer Gruppe; der erste Treffer gewinnt.
func GroupFuzzyDuplicates(items []models.DirectoryItem, threshold float64) []models.DuplicateGroup {
	byCategory := map[string][]int{}
	var order []string
	for i, it := range items {
		key := strings.ToLower(strings.TrimSpace(it.Category))
		if _, ok := byCategory[key]; !ok {
			order = append(order, key)
		}
		byCategory[key] = append(byCategory[key], i)
	}
	sort.Strings(order)

	groups := []models.DuplicateGroup{}
	grouped := make([]bool, len(items))
	for _, cat := range order {
		idx := byCategory[cat]
		for pi, p := range idx {
			if grouped[p] {
				continue
			}
			members := []models.DirectoryItem{items[p]}
			for _, c := range idx[pi+1:] {
				if grouped[c] {
					continue
				}
				if ItemSimilarity(items[p], items[c]) >= threshold {
					members = append(members, items[c])
					grouped[c] = true
				}
			}
			if len(members) < 2 {
				continue
			}
			grouped[p] = true

			selected := make([]string, 0, len(members)-1)
			for _, d := range members[1:] {
				selected = append(selected, d.ID)
			}
			groups = append(groups, models.DuplicateGroup{
				PrimaryRecord:      members[0],
				Duplicates:         members[1:],
				SelectedDuplicates: selected,
				Action:             models.ActionKeep,
				Similarity:         meanPairwise(members),
			})
		}
	}
	return groups
}

func meanPairwise(members []models.DirectoryItem) float64 {
	var sum float64
	pairs := 0
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			sum += ItemSimilarity(members[i], members[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	return sum / float64(pairs)
}

func truncateRunes(s string) []rune {
	r := []rune(s)
	if len(r) > maxCompareRunes {
		r = r[:maxCompareRunes]
	}
	return r
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
