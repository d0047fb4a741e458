package normalize

import (
	"strings"

	"github.com/ternarybob/laboro/internal/models"
)

// jobTypeTokens is the substring fallback for longer text such as titles.
// More specific categories sit first so "full-time internship" lands on
// internship.
var jobTypeTokens = []struct {
	token   string
	jobType models.JobType
}{
	{"internship", models.JobTypeInternship},
	{"intern", models.JobTypeInternship},
	{"apprentice", models.JobTypeInternship},
	{"trainee", models.JobTypeInternship},
	{"co-op", models.JobTypeInternship},
	{"temporary", models.JobTypeTemporary},
	{"seasonal", models.JobTypeTemporary},
	{"temp", models.JobTypeTemporary},
	{"contract", models.JobTypeContract},
	{"freelance", models.JobTypeContract},
	{"part time", models.JobTypePartTime},
	{"part-time", models.JobTypePartTime},
	{"full time", models.JobTypeFullTime},
	{"full-time", models.JobTypeFullTime},
	{"permanent", models.JobTypeFullTime},
}

// ParseJobType canonicalizes employment-type text onto the 5-value enum.
// Exact surface forms are matched first, then word-bounded tokens for longer
// text. Returns the empty type when nothing matches.
func ParseJobType(text string) models.JobType {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if lower == "" {
		return ""
	}

	switch lower {
	case "full time", "full-time", "fulltime", "full_time", "ft", "f/t",
		"permanent", "permanent full-time", "regular", "regular full-time",
		"salaried", "direct hire", "cdi":
		return models.JobTypeFullTime
	case "part time", "part-time", "parttime", "part_time", "pt", "p/t",
		"casual":
		return models.JobTypePartTime
	case "contract", "contractor", "contract role", "contract position",
		"contract-to-hire", "contract to hire", "c2h", "corp-to-corp", "c2c",
		"1099", "w2 contract", "freelance", "freelancer", "consultant",
		"consulting", "fixed term", "fixed-term", "fixed term contract",
		"b2b", "cdd":
		return models.JobTypeContract
	case "temporary", "temp", "temp-to-perm", "temp to perm", "seasonal",
		"interim", "locum", "short term", "short-term":
		return models.JobTypeTemporary
	case "internship", "intern", "paid internship", "summer internship",
		"co-op", "coop", "apprenticeship", "apprentice", "trainee",
		"graduate program", "graduate programme", "working student",
		"werkstudent", "praktikum":
		return models.JobTypeInternship
	}

	for _, entry := range jobTypeTokens {
		if containsWord(lower, entry.token) {
			return entry.jobType
		}
	}
	return ""
}

// containsWord reports whether token occurs in lower on word boundaries.
// Letters, digits, '+' and '#' bind to the surrounding word; anything else
// separates.
func containsWord(lower, token string) bool {
	for start := 0; ; {
		i := strings.Index(lower[start:], token)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(token)
		leftOK := i == 0 || !isWordByte(lower[i-1])
		rightOK := end == len(lower) || !isWordByte(lower[end])
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '+' || c == '#' || c >= 0x80
}
