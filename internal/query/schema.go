package query

import (
	"fmt"
	"strings"
)

// Table names the planner and composer refer to directly.
const (
	TableIssues      = "issues"
	TableAttachments = "issue_attachments"
	TableFlock       = "flock_farm_information"
	TableSymptoms    = "symptoms_performance_data"
	TableMedical     = "medical_diagnostic_records"
	TableProblem     = "farmer_problem"
)

// Table is one table of the case datastore with its declared columns.
type Table struct {
	Name    string
	Columns []string
}

// Schema is the fixed, versioned description handed to the planner.
type Schema struct {
	Version string
	Tables  []Table
}

// DefaultSchema is the poultry case schema served by the datastore.
var DefaultSchema = Schema{
	Version: "2",
	Tables: []Table{
		{TableFlock, []string{"id", "case_id", "type_of_chicken", "age_of_chicken", "housing_type", "number_of_affected_flocks", "feed_type", "environment_information", "timestamp"}},
		{TableSymptoms, []string{"id", "case_id", "main_symptoms", "daily_production_performance", "pattern_of_spread_or_drop", "timestamp"}},
		{TableMedical, []string{"id", "case_id", "vaccination_history", "lab_data", "pathology_findings_necropsy", "current_treatment", "management_questions", "timestamp"}},
		{TableIssues, []string{"id", "title", "description", "farm_name", "status", "close_reason", "assigned_team", "case_id", "created_at", "updated_at"}},
		{TableProblem, []string{"id", "case_id", "problem_description", "timestamp"}},
		{TableAttachments, []string{"id", "case_id", "file_name", "file_path", "uploaded_at"}},
	},
}

// Describe renders the schema in the compact form used inside prompts.
func (s Schema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tables (schema v%s):\n", s.Version)
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "- %s(%s)\n", t.Name, strings.Join(t.Columns, ", "))
	}
	return b.String()
}

// Has reports whether table is declared.
func (s Schema) Has(table string) bool {
	_, ok := s.Table(table)
	return ok
}

// Table returns the declared table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames lists the declared tables in schema order.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}
