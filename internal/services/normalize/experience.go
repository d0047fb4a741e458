package normalize

import "strings"

// experienceTokens maps seniority markers onto canonical levels. Ordered most
// specific first; "senior staff engineer" resolves to staff.
var experienceTokens = []struct {
	token string
	level string
}{
	{"principal", "principal"},
	{"staff", "staff"},
	{"director", "director"},
	{"vice president", "director"},
	{"head of", "lead"},
	{"tech lead", "lead"},
	{"team lead", "lead"},
	{"lead", "lead"},
	{"senior", "senior"},
	{"sr.", "senior"},
	{"sr", "senior"},
	{"junior", "junior"},
	{"jr.", "junior"},
	{"jr", "junior"},
	{"entry level", "entry"},
	{"entry-level", "entry"},
	{"entry", "entry"},
	{"graduate", "entry"},
	{"mid level", "mid"},
	{"mid-level", "mid"},
	{"midlevel", "mid"},
	{"intermediate", "mid"},
}

// ParseExperienceLevel extracts a canonical seniority level from text,
// usually a job title. Returns "" when no marker is present.
func ParseExperienceLevel(text string) string {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if lower == "" {
		return ""
	}
	for _, entry := range experienceTokens {
		if containsWord(lower, entry.token) {
			return entry.level
		}
	}
	return ""
}
