package analysis

import (
	"encoding/json"

	"github.com/bizmarket/analysis-pipeline/internal/domain/model"
)

// demoDocument is a fictional, fully populated listing used when the real listing is missing.
const demoDocument = `{
  "title": "Established Coffee Roastery & Café",
  "industry": "Food & Beverage",
  "category": "Cafe",
  "city": "Portland",
  "state": "OR",
  "country": "US",
  "asking_price": 850000,
  "business_type": "Cafe",
  "year_established": 2012,
  "employees": 14,
  "reason_for_selling": "Owner retiring",
  "financials": {
    "annual_revenue": 1200000,
    "ebitda": 210000,
    "cash_flow": 240000,
    "fiscal_year": 2024
  },
  "profile": {
    "owner_involvement": "part-time",
    "full_time_staff": 9,
    "part_time_staff": 5,
    "founded_year": 2012
  },
  "documents": [
    {"kind": "financials", "name": "P&L 2024"},
    {"kind": "financials", "name": "P&L 2023"},
    {"kind": "lease", "name": "Retail lease"}
  ]
}`

// DemoListing returns the fallback listing document, carrying the requested id.
func DemoListing(id string) *model.Listing {
	return &model.Listing{ID: id, Document: json.RawMessage(demoDocument)}
}
