package definitions

import "marketlens/internal/domain"

// PresetColumns are seeded the first time columns are loaded.
func PresetColumns() []domain.Column {
	return []domain.Column{
		{
			ID: "profit", Name: "Profit", Group: "flipping", Enabled: true,
			Expression:  "round((high * 0.98) - low)",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatCurrency,
			Description: "Instant-sell price after the 2% exchange tax minus instant-buy price.",
		},
		{
			ID: "roi", Name: "ROI", Group: "flipping", Enabled: true,
			Expression:  "((high * 0.98 - low) / low) * 100",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatPercentage,
			Description: "Profit as a percentage of the buy price.",
		},
		{
			ID: "margin", Name: "Margin", Group: "flipping", Enabled: false,
			Expression:  "high - low",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatCurrency,
			Description: "Raw spread before tax.",
		},
		{
			ID: "limitProfit", Name: "Profit / limit", Group: "flipping", Enabled: true,
			Expression:  "limit ? columns.profit * limit : null",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatCurrency,
			Description: "Profit from flipping a full buy limit.",
		},
		{
			ID: "volume", Name: "Daily volume", Group: "market", Enabled: true,
			Expression:  "volume",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatCurrency,
			Description: "Units traded over the last 24 hours.",
		},
		{
			ID: "lastTrade", Name: "Last trade", Group: "market", Enabled: true,
			Expression:  "max(highTime ?? 0, lowTime ?? 0)",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatRelativeTime,
			Description: "Time of the most recent instant buy or sell.",
		},
		{
			ID: "avgHigh1hTrend", Name: "1h trend", Group: "history", Enabled: false,
			Expression:  "avg(field(slice(timeseries(id, '1h'), -6), 'avgHighPrice'))",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatCurrency,
			Description: "Average high price over the last six hourly buckets.",
		},
		{
			ID: "alchProfit", Name: "Alch profit", Group: "alchemy", Enabled: false,
			Expression:  "highalch - low",
			ValueType:   domain.ValueNumber,
			Format:      domain.FormatCurrency,
			Description: "High alchemy value minus buy price, excluding runes.",
		},
	}
}

// PresetFilters are seeded the first time filters are loaded. All start
// disabled so the initial table shows every record.
func PresetFilters() []domain.Filter {
	return []domain.Filter{
		{
			ID: "highMargin", Name: "High margin", Category: "flipping",
			Expressions: []domain.FilterExpression{{Code: "columns.profit >= 10000"}},
			Description: "Profit of at least 10k per item.",
		},
		{
			ID: "members", Name: "Members only", Category: "general",
			Expressions: []domain.FilterExpression{{Code: "members"}},
		},
		{
			ID: "liquid", Name: "Liquid", Category: "market",
			Expressions: []domain.FilterExpression{{Code: "volume >= 1000"}},
			Description: "At least 1,000 units traded per day.",
		},
		{
			ID: "alchable", Name: "Alch candidates", Category: "alchemy", Independent: true,
			Expressions: []domain.FilterExpression{{
				Code:            "highalch - low - getRecord('Nature rune', 'high') > 0",
				Action:          "alch",
				HighlightTarget: "Nature rune",
			}},
			Description: "Items that profit from high alchemy after the rune cost.",
		},
		{
			ID: "spike", Name: "Price spike", Category: "history", Independent: true,
			Expressions: []domain.FilterExpression{
				{Code: "high > 1.2 * avg(field(timeseries(id, '1h'), 'avgHighPrice'))", Action: "sell"},
				{Code: "low < 0.8 * avg(field(timeseries(id, '1h'), 'avgLowPrice'))", Action: "buy"},
			},
			Description: "Current price more than 20% away from the hourly average.",
		},
	}
}
