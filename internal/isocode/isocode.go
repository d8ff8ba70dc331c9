// Package isocode maps ISO 3166 alpha-3 country codes used by the country-data
// API onto the alpha-2 codes the map layer keys on.
package isocode

import (
	"sort"
	"strings"

	"github.com/ngirimana/finindex/internal/domain"
)

var alpha3To2 = map[string]string{
	"DZA": "DZ", "AGO": "AO", "BEN": "BJ", "BWA": "BW", "BFA": "BF", "BDI": "BI", "CMR": "CM", "CPV": "CV",
	"CAF": "CF", "TCD": "TD", "COM": "KM", "COG": "CG", "COD": "CD", "DJI": "DJ", "EGY": "EG", "GNQ": "GQ",
	"ERI": "ER", "ETH": "ET", "GAB": "GA", "GMB": "GM", "GHA": "GH", "GIN": "GN", "GNB": "GW", "CIV": "CI",
	"KEN": "KE", "LSO": "LS", "LBR": "LR", "LBY": "LY", "MDG": "MG", "MWI": "MW", "MLI": "ML", "MRT": "MR",
	"MUS": "MU", "MAR": "MA", "MOZ": "MZ", "NAM": "NA", "NER": "NE", "NGA": "NG", "RWA": "RW", "STP": "ST",
	"SEN": "SN", "SYC": "SC", "SLE": "SL", "SOM": "SO", "ZAF": "ZA", "SSD": "SS", "SDN": "SD", "SWZ": "SZ",
	"TZA": "TZ", "TGO": "TG", "TUN": "TN", "UGA": "UG", "ZMB": "ZM", "ZWE": "ZW",
}

var alpha2 = func() map[string]string {
	m := make(map[string]string, len(alpha3To2))
	for a3, a2 := range alpha3To2 {
		m[a2] = a3
	}
	return m
}()

// ToAlpha2 returns the alpha-2 code for a known alpha-3 code and the input
// unchanged otherwise. Applying it twice gives the same result as once.
func ToAlpha2(code string) string {
	if a2, ok := alpha3To2[code]; ok {
		return a2
	}
	return code
}

// IsAfrican reports whether code is one of the alpha-2 codes in the table.
func IsAfrican(code string) bool {
	_, ok := alpha2[strings.ToUpper(code)]
	return ok
}

// Len is the number of countries covered.
func Len() int { return len(alpha3To2) }

// NormalizeRecords maps every record id to alpha-2, drops repeated
// (name, year) pairs and orders the snapshot by country name. The input
// slice is not modified.
func NormalizeRecords(records []domain.CountryRecord) []domain.CountryRecord {
	out := make([]domain.CountryRecord, len(records))
	copy(out, records)
	for i := range out {
		out[i].ID = ToAlpha2(out[i].ID)
	}
	out = domain.DedupeRecords(out)
	domain.SortByName(out)
	return out
}

var names = map[string]string{
	"DZA": "Algeria", "AGO": "Angola", "BEN": "Benin", "BWA": "Botswana", "BFA": "Burkina Faso",
	"BDI": "Burundi", "CMR": "Cameroon", "CPV": "Cape Verde", "CAF": "Central African Republic",
	"TCD": "Chad", "COM": "Comoros", "COG": "Congo", "COD": "Democratic Republic of the Congo",
	"DJI": "Djibouti", "EGY": "Egypt", "GNQ": "Equatorial Guinea", "ERI": "Eritrea", "ETH": "Ethiopia",
	"GAB": "Gabon", "GMB": "Gambia", "GHA": "Ghana", "GIN": "Guinea", "GNB": "Guinea-Bissau",
	"CIV": "Ivory Coast", "KEN": "Kenya", "LSO": "Lesotho", "LBR": "Liberia", "LBY": "Libya",
	"MDG": "Madagascar", "MWI": "Malawi", "MLI": "Mali", "MRT": "Mauritania", "MUS": "Mauritius",
	"MAR": "Morocco", "MOZ": "Mozambique", "NAM": "Namibia", "NER": "Niger", "NGA": "Nigeria",
	"RWA": "Rwanda", "STP": "Sao Tome and Principe", "SEN": "Senegal", "SYC": "Seychelles",
	"SLE": "Sierra Leone", "SOM": "Somalia", "ZAF": "South Africa", "SSD": "South Sudan",
	"SDN": "Sudan", "SWZ": "Eswatini", "TZA": "Tanzania", "TGO": "Togo", "TUN": "Tunisia",
	"UGA": "Uganda", "ZMB": "Zambia", "ZWE": "Zimbabwe",
}

// Country is one entry of the table.
type Country struct {
	Alpha3 string
	Alpha2 string
	Name   string
}

// Countries lists every covered country ordered by alpha-3 code.
func Countries() []Country {
	out := make([]Country, 0, len(alpha3To2))
	for a3, a2 := range alpha3To2 {
		out = append(out, Country{Alpha3: a3, Alpha2: a2, Name: names[a3]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alpha3 < out[j].Alpha3 })
	return out
}
