package models

import "time"

// TickerStat is one row of a popularity report.
type TickerStat struct {
	Ticker   string `yaml:"ticker"`
	Mentions int    `yaml:"mentions"`
	Authors  int    `yaml:"authors"`
	Score    int    `yaml:"score"`
}

// Report is handed to emitters once per report run.
type Report struct {
	Name        string
	Window      time.Duration
	GeneratedAt time.Time
	Scores      map[string]int
	// Ranked holds the same tickers as Scores, highest score first.
	Ranked []TickerStat
	// Commentary is optional generated prose about the ranking.
	Commentary string
}
