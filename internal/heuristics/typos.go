package heuristics

import "regexp"

type correction struct {
	re   *regexp.Regexp
	with string
}

// Known misreads of the exam font. Phrases come before the single words they
// contain.
var corrections = compileCorrections([][2]string{
	{"the ist", "the first"},
	{"qun restrictions", "gun restrictions"},
	{"qun laws", "gun laws"},
	{"qun", "gun"},
	{"zor", "Razor"},
	{"ist", "first"},
	{"outine", "outline"},
	{"yal", "y'all"},
	{"Pogetoda", "PageModel"},
	{"Catele", "Controller"},
	{"Vietfode", "ViewModel"},
	{"Adetabscosntty", "A database entity"},
	{"Pamswork", "Framework"},
	{"Areslacament", "A replacement"},
	{"esc", "described"},
	{"ic", "is"},
	{"ond", "and"},
	{"fer", "for"},
	{"TAL", "HTML"},
})

func compileCorrections(table [][2]string) []correction {
	out := make([]correction, 0, len(table))
	for _, c := range table {
		out = append(out, correction{
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(c[0]) + `\b`),
			with: c[1],
		})
	}
	return out
}

// FixCommonOcrErrors replaces whole words from the correction table,
// ignoring case.
func FixCommonOcrErrors(text string) string {
	if text == "" {
		return text
	}
	for _, c := range corrections {
		text = c.re.ReplaceAllLiteralString(text, c.with)
	}
	return text
}
