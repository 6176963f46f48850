package postcode

import (
	"fmt"
	"slices"
	"strings"
)

// Region is one of the twelve named groupings of postcode areas used for
// coarse location filtering. It is unrelated to the administrative region
// name returned by the lookup service.
type Region string

const (
	London          Region = "London"
	Scotland        Region = "Scotland"
	Wales           Region = "Wales"
	NorthernIreland Region = "Northern Ireland"
	NorthEast       Region = "North East"
	NorthWest       Region = "North West"
	Yorkshire       Region = "Yorkshire"
	EastMidlands    Region = "East Midlands"
	WestMidlands    Region = "West Midlands"
	EastOfEngland   Region = "East of England"
	SouthEast       Region = "South East"
	SouthWest       Region = "South West"
)

// AllRegions lists every region in display order.
var AllRegions = []Region{
	London, Scotland, Wales, NorthernIreland,
	NorthEast, NorthWest, Yorkshire, EastMidlands,
	WestMidlands, EastOfEngland, SouthEast, SouthWest,
}

// regionAreas is the single source of truth for area membership. An area
// belongs to at most one region; Crown dependency areas (GY, JE, IM) are
// deliberately absent.
var regionAreas = map[Region][]string{
	London:          {"E", "EC", "N", "NW", "SE", "SW", "W", "WC", "BR", "CR", "EN", "HA", "IG", "KT", "RM", "SM", "TW", "UB"},
	Scotland:        {"AB", "DD", "DG", "EH", "FK", "G", "HS", "IV", "KA", "KW", "KY", "ML", "PA", "PH", "TD", "ZE"},
	Wales:           {"CF", "LD", "LL", "NP", "SA"},
	NorthernIreland: {"BT"},
	NorthEast:       {"DH", "DL", "NE", "SR", "TS"},
	NorthWest:       {"BB", "BL", "CA", "CH", "CW", "FY", "L", "LA", "M", "OL", "PR", "SK", "WA", "WN"},
	Yorkshire:       {"BD", "DN", "HD", "HG", "HU", "HX", "LS", "S", "WF", "YO"},
	EastMidlands:    {"DE", "LE", "LN", "NG", "NN"},
	WestMidlands:    {"B", "CV", "DY", "HR", "ST", "SY", "TF", "WR", "WS", "WV"},
	EastOfEngland:   {"AL", "CB", "CM", "CO", "IP", "LU", "NR", "PE", "SG", "SS"},
	SouthEast:       {"BN", "CT", "GU", "HP", "ME", "MK", "OX", "PO", "RG", "RH", "SL", "SO", "TN"},
	SouthWest:       {"BA", "BH", "BS", "DT", "EX", "GL", "PL", "SN", "SP", "TA", "TQ", "TR"},
}

var areaRegion = buildAreaIndex(regionAreas)

func buildAreaIndex(table map[Region][]string) map[string]Region {
	index := make(map[string]Region)
	for region, areas := range table {
		for _, area := range areas {
			if existing, ok := index[area]; ok {
				panic(fmt.Sprintf("postcode area %s assigned to both %s and %s", area, existing, region))
			}
			index[area] = region
		}
	}
	return index
}

// ParseRegion returns the Region with the given name. Matching ignores case
// and surrounding whitespace.
func ParseRegion(name string) (Region, bool) {
	name = strings.TrimSpace(name)
	for _, r := range AllRegions {
		if strings.EqualFold(string(r), name) {
			return r, true
		}
	}
	return "", false
}

// ClassifyRegion reports whether area belongs to region. Unknown regions and
// unknown areas both yield false.
func ClassifyRegion(area string, region Region) bool {
	got, ok := RegionOf(area)
	return ok && got == region
}

// RegionOf returns the region that owns area.
func RegionOf(area string) (Region, bool) {
	r, ok := areaRegion[strings.ToUpper(strings.TrimSpace(area))]
	return r, ok
}

// Regions returns a copy of the region table with each area list sorted.
func Regions() map[Region][]string {
	out := make(map[Region][]string, len(regionAreas))
	for region, areas := range regionAreas {
		sorted := slices.Clone(areas)
		slices.Sort(sorted)
		out[region] = sorted
	}
	return out
}

// IsPostcodeInRegion classifies a raw postcode without consulting the lookup
// service. Malformed postcodes are never in any region.
func IsPostcodeInRegion(raw string, region Region) bool {
	c, err := Parse(raw)
	if err != nil {
		return false
	}
	return ClassifyRegion(c.Area, region)
}
