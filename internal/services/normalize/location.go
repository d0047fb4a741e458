package normalize

import "strings"

// Location is the structured form of a free-text location string.
type Location struct {
	City       string
	State      string
	Country    string
	Remote     bool
	Confidence float64 // 0..1; callers keep the original text below 0.5
}

// countries maps lowercase surface names onto canonical country names.
var countries = map[string]string{
	"usa":                      "United States",
	"us":                       "United States",
	"u.s.":                     "United States",
	"u.s.a.":                   "United States",
	"united states":            "United States",
	"united states of america": "United States",
	"america":                  "United States",
	"uk":                       "United Kingdom",
	"u.k.":                     "United Kingdom",
	"united kingdom":           "United Kingdom",
	"great britain":            "United Kingdom",
	"britain":                  "United Kingdom",
	"england":                  "United Kingdom",
	"scotland":                 "United Kingdom",
	"wales":                    "United Kingdom",
	"canada":                   "Canada",
	"australia":                "Australia",
	"germany":                  "Germany",
	"deutschland":              "Germany",
	"france":                   "France",
	"india":                    "India",
	"netherlands":              "Netherlands",
	"the netherlands":          "Netherlands",
	"holland":                  "Netherlands",
	"spain":                    "Spain",
	"ireland":                  "Ireland",
	"singapore":                "Singapore",
	"japan":                    "Japan",
	"brazil":                   "Brazil",
	"mexico":                   "Mexico",
	"poland":                   "Poland",
	"sweden":                   "Sweden",
	"switzerland":              "Switzerland",
	"austria":                  "Austria",
	"belgium":                  "Belgium",
	"denmark":                  "Denmark",
	"norway":                   "Norway",
	"finland":                  "Finland",
	"portugal":                 "Portugal",
	"italy":                    "Italy",
	"new zealand":              "New Zealand",
	"nz":                       "New Zealand",
	"israel":                   "Israel",
	"uae":                      "United Arab Emirates",
	"united arab emirates":     "United Arab Emirates",
	"china":                    "China",
	"south korea":              "South Korea",
	"korea":                    "South Korea",
	"argentina":                "Argentina",
	"czech republic":           "Czechia",
	"czechia":                  "Czechia",
	"romania":                  "Romania",
	"ukraine":                  "Ukraine",
	"hungary":                  "Hungary",
	"south africa":             "South Africa",
	"philippines":              "Philippines",
	"indonesia":                "Indonesia",
	"vietnam":                  "Vietnam",
	"thailand":                 "Thailand",
	"malaysia":                 "Malaysia",
	"nigeria":                  "Nigeria",
	"kenya":                    "Kenya",
	"egypt":                    "Egypt",
	"colombia":                 "Colombia",
	"chile":                    "Chile",
	"peru":                     "Peru",
	"greece":                   "Greece",
	"turkey":                   "Turkey",
	"estonia":                  "Estonia",
	"latvia":                   "Latvia",
	"lithuania":                "Lithuania",
	"bulgaria":                 "Bulgaria",
	"croatia":                  "Croatia",
	"serbia":                   "Serbia",
	"slovakia":                 "Slovakia",
	"slovenia":                 "Slovenia",
}

type region struct {
	name    string
	country string
}

// regions maps state and province tokens onto their full name and implied
// country. US postal codes take priority where a code collides with another
// country's region.
var regions = map[string]region{
	"al": {"Alabama", "United States"},
	"ak": {"Alaska", "United States"},
	"az": {"Arizona", "United States"},
	"ar": {"Arkansas", "United States"},
	"ca": {"California", "United States"},
	"co": {"Colorado", "United States"},
	"ct": {"Connecticut", "United States"},
	"de": {"Delaware", "United States"},
	"fl": {"Florida", "United States"},
	"ga": {"Georgia", "United States"},
	"hi": {"Hawaii", "United States"},
	"id": {"Idaho", "United States"},
	"il": {"Illinois", "United States"},
	"in": {"Indiana", "United States"},
	"ia": {"Iowa", "United States"},
	"ks": {"Kansas", "United States"},
	"ky": {"Kentucky", "United States"},
	"la": {"Louisiana", "United States"},
	"me": {"Maine", "United States"},
	"md": {"Maryland", "United States"},
	"ma": {"Massachusetts", "United States"},
	"mi": {"Michigan", "United States"},
	"mn": {"Minnesota", "United States"},
	"ms": {"Mississippi", "United States"},
	"mo": {"Missouri", "United States"},
	"mt": {"Montana", "United States"},
	"ne": {"Nebraska", "United States"},
	"nv": {"Nevada", "United States"},
	"nh": {"New Hampshire", "United States"},
	"nj": {"New Jersey", "United States"},
	"nm": {"New Mexico", "United States"},
	"ny": {"New York", "United States"},
	"nc": {"North Carolina", "United States"},
	"nd": {"North Dakota", "United States"},
	"oh": {"Ohio", "United States"},
	"ok": {"Oklahoma", "United States"},
	"or": {"Oregon", "United States"},
	"pa": {"Pennsylvania", "United States"},
	"ri": {"Rhode Island", "United States"},
	"sc": {"South Carolina", "United States"},
	"sd": {"South Dakota", "United States"},
	"tn": {"Tennessee", "United States"},
	"tx": {"Texas", "United States"},
	"ut": {"Utah", "United States"},
	"vt": {"Vermont", "United States"},
	"va": {"Virginia", "United States"},
	"wa": {"Washington", "United States"},
	"wv": {"West Virginia", "United States"},
	"wi": {"Wisconsin", "United States"},
	"wy": {"Wyoming", "United States"},
	"dc": {"District of Columbia", "United States"},

	"on":  {"Ontario", "Canada"},
	"bc":  {"British Columbia", "Canada"},
	"qc":  {"Quebec", "Canada"},
	"ab":  {"Alberta", "Canada"},
	"mb":  {"Manitoba", "Canada"},
	"sk":  {"Saskatchewan", "Canada"},
	"ns":  {"Nova Scotia", "Canada"},
	"nb":  {"New Brunswick", "Canada"},
	"nsw": {"New South Wales", "Australia"},
	"vic": {"Victoria", "Australia"},
	"qld": {"Queensland", "Australia"},
	"tas": {"Tasmania", "Australia"},
	"act": {"Australian Capital Territory", "Australia"},
}

// regionNames indexes full state names so "New York, New York" resolves the
// same way the postal code does.
var regionNames = func() map[string]region {
	byName := make(map[string]region, len(regions))
	for _, r := range regions {
		byName[strings.ToLower(r.name)] = r
	}
	return byName
}()

var remoteTokens = []string{
	"remote",
	"fully remote",
	"remote-first",
	"work from home",
	"wfh",
	"anywhere",
	"hybrid",
	"telecommute",
}

var locationSeparators = strings.NewReplacer(
	"(", ",", ")", ",", "|", ",", "/", ",", "·", ",",
	" - ", ",", " – ", ",",
)

// ParseLocation splits free-text location into city/state/country against the
// country and region tables and detects remote markers. Confidence reflects
// how much of the input the tables accounted for.
func ParseLocation(text string) Location {
	var out Location
	if strings.TrimSpace(text) == "" {
		return out
	}

	var unmatched []string
	for _, part := range strings.Split(locationSeparators.Replace(text), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lower := strings.ToLower(part)

		if isRemoteToken(lower) {
			out.Remote = true
			continue
		}
		if country, ok := countries[lower]; ok {
			out.Country = country
			continue
		}
		r, ok := regions[lower]
		if !ok {
			r, ok = regionNames[lower]
		}
		if ok {
			out.State = r.name
			if out.Country == "" {
				out.Country = r.country
			}
			continue
		}
		unmatched = append(unmatched, part)
	}

	if len(unmatched) > 0 {
		out.City = unmatched[0]
	}

	out.Confidence = locationConfidence(&out, len(unmatched))
	return out
}

func isRemoteToken(lower string) bool {
	for _, token := range remoteTokens {
		if lower == token {
			return true
		}
	}
	return false
}

func locationConfidence(loc *Location, unmatched int) float64 {
	var conf float64
	switch {
	case loc.Country != "" && loc.State != "" && loc.City != "":
		conf = 0.95
	case loc.Country != "" && loc.City != "":
		conf = 0.9
	case loc.State != "" && loc.City != "":
		conf = 0.85
	case loc.Country != "":
		conf = 0.8
	case loc.State != "":
		conf = 0.7
	case loc.Remote && loc.City == "":
		conf = 1.0
	case loc.City != "":
		conf = 0.4
	}
	// Leftover parts the tables could not place drag confidence down.
	if extras := unmatched - 1; extras > 0 && loc.City != "" {
		conf -= 0.2 * float64(extras)
		if conf < 0.1 {
			conf = 0.1
		}
	}
	return conf
}
