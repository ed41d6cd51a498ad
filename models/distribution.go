package models

// CoinChange is one symbol's percent move over a query window, measured
// against the window's base snapshot.
type CoinChange struct {
	Symbol    string  `json:"symbol"`
	Change    float64 `json:"change"`
	MaxChange float64 `json:"maxChange"`
	MinChange float64 `json:"minChange"`
}

// DistributionBucket is one histogram cell; Range is formatted
// "<lo>%~<hi>%" and Coins is sorted by Change descending.
type DistributionBucket struct {
	Range string       `json:"range"`
	Count int          `json:"count"`
	Coins []CoinChange `json:"coins"`
}

// DistributionResult is the full rise-distribution response body.
type DistributionResult struct {
	TotalCoins      int                  `json:"totalCoins"`
	UpCount         int                  `json:"upCount"`
	DownCount       int                  `json:"downCount"`
	Distribution    []DistributionBucket `json:"distribution"`
	AllCoinsRanking []CoinChange         `json:"allCoinsRanking"`
}

// Wave is one detected uptrend segment for a symbol.
type Wave struct {
	Symbol      string  `json:"symbol"`
	StartTimeMs int64   `json:"startTimeMs"`
	PeakTimeMs  int64   `json:"peakTimeMs"`
	StartPrice  float64 `json:"startPrice"`
	PeakPrice   float64 `json:"peakPrice"`
	Pct         float64 `json:"pct"`
	Ongoing     bool    `json:"ongoing"`
}

// WaveBucket is one histogram cell of the uptrend distribution.
type WaveBucket struct {
	Range        string `json:"range"`
	Count        int    `json:"count"`
	OngoingCount int    `json:"ongoingCount"`
	Waves        []Wave `json:"waves"`
}

// UptrendResult is the full uptrend-distribution response body.
type UptrendResult struct {
	TotalCoins      int          `json:"totalCoins"`
	OngoingCount    int          `json:"ongoingCount"`
	AvgUptrend      float64      `json:"avgUptrend"`
	MaxUptrend      float64      `json:"maxUptrend"`
	Distribution    []WaveBucket `json:"distribution"`
	AllCoinsRanking []Wave       `json:"allCoinsRanking"`
}
