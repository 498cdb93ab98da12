package query

import "sort"

// CategoryVolume is the summed item volume of one product category.
type CategoryVolume struct {
	// Category is nil for lines without a category.
	Category   *string
	ItemVolume int64
}

// Name returns the category label, or "" for the missing-category bucket.
func (c CategoryVolume) Name() string {
	if c.Category == nil {
		return ""
	}
	return *c.Category
}

// CategoryVolumes sums ItemID per category, keeping lines without a
// category as their own bucket. Rows are sorted by volume, largest first;
// equal volumes keep the order in which their category was first seen.
func CategoryVolumes(lines []OrderLine) []CategoryVolume {
	table := make([]CategoryVolume, 0)
	pos := make(map[string]int)
	missing := -1

	for _, line := range lines {
		if line.Category == nil {
			if missing < 0 {
				missing = len(table)
				table = append(table, CategoryVolume{})
			}
			table[missing].ItemVolume += line.ItemID
			continue
		}
		i, ok := pos[*line.Category]
		if !ok {
			i = len(table)
			pos[*line.Category] = i
			table = append(table, CategoryVolume{Category: Category(*line.Category)})
		}
		table[i].ItemVolume += line.ItemID
	}

	sort.SliceStable(table, func(i, j int) bool {
		return table[i].ItemVolume > table[j].ItemVolume
	})
	return table
}
