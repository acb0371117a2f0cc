package synth

import (
	"regexp"
	"strings"

	"github.com/jward/pecompile/internal/config"
)

// Residual is host syntax left in generated source.
type Residual struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Residuals scans generated source for entity calls, group methods and
// parameter accessors that the rewrite left behind. Every such occurrence
// would fail in the target environment.
func Residuals(src string, tbl *config.Table) []Residual {
	if tbl == nil {
		tbl = config.Default()
	}
	kws := append(tbl.Entities(), tbl.Members())
	quoted := make([]string, len(kws))
	for i, k := range kws {
		quoted[i] = regexp.QuoteMeta(k)
	}
	alt := strings.Join(quoted, "|")
	re := regexp.MustCompile(`(?:^|[^\w$.])(?:` + alt + `)\s*\(\s*["']` +
		`|\b(?:` + alt + `)\.[A-Za-z_]\w*\s*\(` +
		`|(?:^|[^\w$.])` + regexp.QuoteMeta(tbl.ParameterRoot()) + `\s*\(`)

	var out []Residual
	for i, line := range strings.Split(src, "\n") {
		if re.MatchString(line) {
			out = append(out, Residual{Line: i + 1, Text: strings.TrimSpace(line)})
		}
	}
	return out
}
