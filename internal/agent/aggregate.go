package agent

import (
	"fmt"
	"strings"

	"github.com/rahul/casedesk/internal/query"
)

// UnknownFarm labels issues that have no farm name.
const UnknownFarm = "Unknown"

// FarmSummary holds the issue counts of one farm.
type FarmSummary struct {
	Farm   string
	Total  int
	Open   int
	Closed int
	Tech   int // assigned to a technical team
}

// IssuesSummary is the all-issues aggregate.
type IssuesSummary struct {
	Total  int
	Open   int
	Closed int
	Farms  []FarmSummary // first-seen order
}

// AggregateIssues groups issue rows by farm name. A row is open when its
// status is exactly "open"; every other row, including one with a missing
// or null status, is closed. Tech counts rows whose assigned_team contains "tech" in
// any case.
func AggregateIssues(rows []query.Row) IssuesSummary {
	var s IssuesSummary
	index := make(map[string]int)
	for _, row := range rows {
		farm := stringField(row, "farm_name")
		if farm == "" {
			farm = UnknownFarm
		}
		i, ok := index[farm]
		if !ok {
			i = len(s.Farms)
			index[farm] = i
			s.Farms = append(s.Farms, FarmSummary{Farm: farm})
		}
		f := &s.Farms[i]

		f.Total++
		if stringField(row, "status") == "open" {
			f.Open++
		}
		if strings.Contains(strings.ToLower(stringField(row, "assigned_team")), "tech") {
			f.Tech++
		}
	}
	for i := range s.Farms {
		f := &s.Farms[i]
		f.Closed = f.Total - f.Open
		s.Total += f.Total
		s.Open += f.Open
	}
	s.Closed = s.Total - s.Open
	return s
}

func stringField(row query.Row, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

const (
	farmTableHeader = "Farm Name            Total  Open   Closed   Needs Tech Help"
	farmTableRule   = "------------------------------------------------------------"
)

// Table renders the per-farm counts as a fixed-width table.
func (s IssuesSummary) Table() string {
	var b strings.Builder
	b.WriteString(farmTableHeader)
	b.WriteByte('\n')
	b.WriteString(farmTableRule)
	for _, f := range s.Farms {
		fmt.Fprintf(&b, "\n%-20s %5d %5d %5d %15d", f.Farm, f.Total, f.Open, f.Closed, f.Tech)
	}
	return b.String()
}

// String renders the complete all-issues report.
func (s IssuesSummary) String() string {
	var b strings.Builder
	b.WriteString("Issues Summary:\n")
	fmt.Fprintf(&b, "- Total Cases: %d\n", s.Total)
	fmt.Fprintf(&b, "  - Open Cases: %d\n", s.Open)
	fmt.Fprintf(&b, "  - Closed Cases: %d\n", s.Closed)
	b.WriteString("\nCase Summary by Farm:\n")
	b.WriteString(s.Table())
	return b.String()
}
