package services

// LevelTier maps a level to the minimum total points required to hold it.
// Tiers must be sorted by level with strictly increasing MinPoints and the
// first tier at MinPoints 0, so every non-negative total has a level.
type LevelTier struct {
	Level     int
	MinPoints int64
}

// DefaultLevelTable is the tuning table for game balance. Above the last
// tier the curve extrapolates linearly using the final inter-tier gap, so
// there is no level cap.
var DefaultLevelTable = []LevelTier{
	{Level: 1, MinPoints: 0},
	{Level: 2, MinPoints: 100},
	{Level: 3, MinPoints: 250},
	{Level: 4, MinPoints: 500},
	{Level: 5, MinPoints: 1000},
	{Level: 6, MinPoints: 2000},
	{Level: 7, MinPoints: 3500},
	{Level: 8, MinPoints: 5500},
	{Level: 9, MinPoints: 8000},
	{Level: 10, MinPoints: 11000},
}

// LevelForPoints returns the highest level whose threshold totalPoints meets.
// Exactly on a boundary resolves to the higher level. Totals beyond the last
// configured tier gain one level per final-gap points.
func LevelForPoints(totalPoints int64, table []LevelTier) int {
	if len(table) == 0 || totalPoints < table[0].MinPoints {
		return 1
	}

	level := table[0].Level
	for _, tier := range table {
		if totalPoints < tier.MinPoints {
			return level
		}
		level = tier.Level
	}

	// Past the table: extrapolate with the last inter-tier gap.
	last := table[len(table)-1]
	gap := int64(0)
	if len(table) > 1 {
		gap = last.MinPoints - table[len(table)-2].MinPoints
	}
	if gap <= 0 {
		return last.Level
	}
	return last.Level + int((totalPoints-last.MinPoints)/gap)
}
