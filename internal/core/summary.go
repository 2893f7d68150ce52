package core

// PoolSummary is the derived state of a sponsor's pooled fund. Nothing in it
// is stored; every field is recomputed from live entries and grants.
type PoolSummary struct {
	SponsorID string
	TotalPool Money
	TotalUsed Money
	// Remaining may be negative when entries were removed after grants were
	// issued against them.
	Remaining Money
	Entries   []PoolEntry
}

// SponsorTotal aggregates all grants one sponsor made to one recipient.
type SponsorTotal struct {
	SponsorID   string
	SponsorName string
	GrantCount  int
	Amount      Money
}

// Classification is a recipient's risk tier for the current month.
type Classification struct {
	RecipientID  string
	Month        YearMonth
	Level        RiskLevel
	Total        int
	GatedCount   int
	PooledCount  int
	SponsorCount int
}

// CrossSponsorInfo is the all-time view of which sponsors assisted a recipient.
type CrossSponsorInfo struct {
	RecipientID      string
	SponsorCount     int
	SponsorNames     []string
	PerSponsorTotals []SponsorTotal
}
