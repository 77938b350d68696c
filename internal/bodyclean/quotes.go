package bodyclean

import (
	"regexp"
	"strings"
)

var replyHeaderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^On .{1,200} wrote:\s*$`),
	regexp.MustCompile(`^From:\s+\S`),
	regexp.MustCompile(`^-{3,}\s*Original Message\s*-{3,}$`),
	regexp.MustCompile(`^-{3,}\s*Forwarded message\s*-{3,}$`),
	regexp.MustCompile(`^Begin forwarded message:`),
}

// stripQuotedReplies removes quoted-reply content: lines starting with one or
// more ">" markers, and everything from a recognized reply header onward.
func stripQuotedReplies(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if isReplyHeader(trimmed) {
			break
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isReplyHeader(line string) bool {
	for _, re := range replyHeaderPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

var (
	signatureDelimiterRe = regexp.MustCompile(`^(--\s?|_{8,})$`)

	signoffSalutations = []string{
		"best", "best regards", "regards", "kind regards", "warm regards",
		"thanks", "thank you", "cheers", "sincerely", "respectfully",
	}
	jobTitleWords = []string{
		"engineer", "developer", "manager", "director", "consultant",
		"founder", "president", "officer", "ceo", "cto", "coo", "vp",
		"analyst", "designer", "architect", "lead", "head of",
	}
	companySuffixes = []string{
		"inc", "inc.", "llc", "ltd", "ltd.", "gmbh", "corp", "corp.",
		"co.", "company", "group", "labs",
	}
)

// stripSignature removes a trailing signature block introduced by a
// delimiter line, keeping short sign-offs that read like a person's name,
// title or company rather than boilerplate.
func stripSignature(text string) string {
	lines := strings.Split(text, "\n")

	delim := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if signatureDelimiterRe.MatchString(strings.TrimRight(lines[i], " \t")) {
			delim = i
			break
		}
	}
	if delim < 0 {
		return text
	}

	block := lines[delim+1:]
	if looksLikeSignoff(block) {
		// Keep the sign-off, drop only the delimiter line.
		return strings.Join(append(lines[:delim], block...), "\n")
	}
	return strings.Join(lines[:delim], "\n")
}

// looksLikeSignoff accepts a short block whose lines read like a salutation,
// a name with a title, or a company name.
func looksLikeSignoff(block []string) bool {
	var nonEmpty []string
	for _, line := range block {
		if strings.TrimSpace(line) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(line))
		}
	}
	if len(nonEmpty) == 0 || len(nonEmpty) > 4 {
		return false
	}

	matches := 0
	for _, line := range nonEmpty {
		lower := strings.ToLower(strings.TrimRight(line, ",.!"))
		if len(line) > 60 {
			return false
		}
		for _, s := range signoffSalutations {
			if lower == s {
				matches++
				break
			}
		}
		for _, w := range jobTitleWords {
			if strings.Contains(lower, w) {
				matches++
				break
			}
		}
		for _, suffix := range companySuffixes {
			if strings.HasSuffix(lower, " "+suffix) || lower == suffix {
				matches++
				break
			}
		}
	}
	return matches > 0
}
