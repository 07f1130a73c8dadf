package models

import (
	"fmt"
	"strings"
)

// RewardCategory is the closed set of spend categories an offer can reward.
type RewardCategory string

const (
	CategoryTravel        RewardCategory = "travel"
	CategoryDining        RewardCategory = "dining"
	CategoryGroceries     RewardCategory = "groceries"
	CategoryGas           RewardCategory = "gas"
	CategoryShopping      RewardCategory = "shopping"
	CategoryEntertainment RewardCategory = "entertainment"
	CategoryStreaming     RewardCategory = "streaming"
	CategoryTransit       RewardCategory = "transit"
	CategoryDrugstores    RewardCategory = "drugstores"
	CategoryUtilities     RewardCategory = "utilities"
	CategoryGeneral       RewardCategory = "general"
)

// AllRewardCategories lists every RewardCategory in declaration order.
var AllRewardCategories = []RewardCategory{
	CategoryTravel,
	CategoryDining,
	CategoryGroceries,
	CategoryGas,
	CategoryShopping,
	CategoryEntertainment,
	CategoryStreaming,
	CategoryTransit,
	CategoryDrugstores,
	CategoryUtilities,
	CategoryGeneral,
}

// categoryAliases maps source spellings onto the closed set.
var categoryAliases = map[string]RewardCategory{
	"airfare":            CategoryTravel,
	"airlines":           CategoryTravel,
	"flights":            CategoryTravel,
	"hotels":             CategoryTravel,
	"restaurants":        CategoryDining,
	"restaurant":         CategoryDining,
	"food":               CategoryDining,
	"takeout":            CategoryDining,
	"grocery":            CategoryGroceries,
	"supermarkets":       CategoryGroceries,
	"gas stations":       CategoryGas,
	"fuel":               CategoryGas,
	"online shopping":    CategoryShopping,
	"retail":             CategoryShopping,
	"department stores":  CategoryShopping,
	"movies":             CategoryEntertainment,
	"concerts":           CategoryEntertainment,
	"streaming services": CategoryStreaming,
	"rideshare":          CategoryTransit,
	"transportation":     CategoryTransit,
	"transport":          CategoryTransit,
	"pharmacy":           CategoryDrugstores,
	"drugstore":          CategoryDrugstores,
	"bills":              CategoryUtilities,
	"everything":         CategoryGeneral,
	"all purchases":      CategoryGeneral,
	"other":              CategoryGeneral,
}

// ParseRewardCategory maps a free-form label onto the closed set.
func ParseRewardCategory(s string) (RewardCategory, error) {
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	for _, c := range AllRewardCategories {
		if string(c) == key {
			return c, nil
		}
	}
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown reward category %q", s)
}

// Valid reports whether c is a member of the closed set.
func (c RewardCategory) Valid() bool {
	switch c {
	case CategoryTravel, CategoryDining, CategoryGroceries, CategoryGas, CategoryShopping,
		CategoryEntertainment, CategoryStreaming, CategoryTransit, CategoryDrugstores,
		CategoryUtilities, CategoryGeneral:
		return true
	}
	return false
}
