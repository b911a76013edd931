package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_FencedJSON(t *testing.T) {
	text := "Here are the queries:\n```json\n{\n" +
		`  "issues": "SELECT farm_name, status FROM issues WHERE case_id LIKE ?",` + "\n" +
		`  "flock_farm_information": "SELECT * FROM flock_farm_information WHERE case_id LIKE ?"` +
		"\n}\n```"

	g := Classify(text)
	require.Equal(t, Structured, g.Kind)
	assert.Equal(t, []string{"issues", "flock_farm_information"}, g.Plan.Tables())
	q, ok := g.Plan.Get("issues")
	require.True(t, ok)
	assert.Equal(t, "SELECT farm_name, status FROM issues WHERE case_id LIKE ?", q)
}

func TestClassify_KeepsModelOrder(t *testing.T) {
	g := Classify(`{"zeta": "SELECT 1", "alpha": "SELECT 2", "mid": "SELECT 3"}`)
	require.Equal(t, Structured, g.Kind)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, g.Plan.Tables())
}

func TestClassify_NoBlock(t *testing.T) {
	g := Classify("I could not produce any SQL for that.")
	assert.Equal(t, Unstructured, g.Kind)
	assert.True(t, g.PlanOrEmpty().Empty())
}

func TestClassify_BadBlock(t *testing.T) {
	for _, text := range []string{
		`{"issues": SELECT * FROM issues}`,
		`{"issues": ["SELECT 1"]}`,
		`{"issues": "SELECT 1"`,
		`} backwards {`,
	} {
		g := Classify(text)
		assert.NotEqual(t, Structured, g.Kind, text)
		assert.True(t, g.PlanOrEmpty().Empty(), text)
	}
	assert.Equal(t, ParseFailure, Classify(`{"issues": 42}`).Kind)
}

func TestDecodePlan_DuplicateKeys(t *testing.T) {
	p, err := DecodePlan([]byte(`{"issues": "SELECT 1", "farmer_problem": "SELECT 2", "issues": "SELECT 3"}`))
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Table: "issues", Query: "SELECT 3"},
		{Table: "farmer_problem", Query: "SELECT 2"},
	}, p.Steps)
}

func TestPlan_Reorder(t *testing.T) {
	p := Plan{Steps: []Step{
		{Table: TableAttachments, Query: "INSERT"},
		{Table: TableFlock, Query: "A"},
		{Table: TableIssues, Query: "B"},
	}}
	got := p.Reorder(map[string][]string{TableAttachments: {TableIssues}})
	assert.Equal(t, []string{TableIssues, TableAttachments, TableFlock}, got.Tables())

	// Dependencies on unplanned tables are ignored.
	got = Plan{Steps: []Step{{Table: TableAttachments}}}.Reorder(map[string][]string{TableAttachments: {TableIssues}})
	assert.Equal(t, []string{TableAttachments}, got.Tables())

	// Cycles do not loop forever or drop steps.
	got = Plan{Steps: []Step{{Table: "a"}, {Table: "b"}}}.Reorder(map[string][]string{"a": {"b"}, "b": {"a"}})
	assert.ElementsMatch(t, []string{"a", "b"}, got.Tables())
}

func TestResultSet_MarshalJSON(t *testing.T) {
	rs := NewResultSet()
	rs.SetRows("issues", []Row{{"farm_name": "A"}})
	rs.SetError("flock_farm_information", "Error executing query: boom")
	rs.SetSkipped(TableAttachments, "no rows")
	rs.SetRows("farmer_problem", nil)

	data, err := json.Marshal(rs)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"issues": [{"farm_name": "A"}],
		"flock_farm_information": "Error executing query: boom",
		"issue_attachments": {"skipped": "no rows"},
		"farmer_problem": []
	}`, string(data))
	assert.Equal(t, []string{"issues", "flock_farm_information", TableAttachments, "farmer_problem"}, rs.Tables())
}

func TestSchema_Describe(t *testing.T) {
	d := DefaultSchema.Describe()
	assert.Contains(t, d, "- issues(id, title, description, farm_name, status, close_reason, assigned_team, case_id, created_at, updated_at)")
	assert.True(t, DefaultSchema.Has(TableAttachments))
	assert.False(t, DefaultSchema.Has("users"))
}
