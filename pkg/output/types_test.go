package output

import (
	"encoding/json"
	"testing"

	"xwappalyzer/pkg/rule"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONSchema(t *testing.T) {
	techs := []rule.Technology{
		{Name: "nginx", Categories: []string{"Web servers"}, Confidence: 100, Version: "1.18.0"},
		{Name: "PHP", Categories: []string{"Programming languages"}, Confidence: 100, ImpliedBy: "WordPress"},
	}

	data, err := ToJSON(techs)
	require.NoError(t, err)

	var decoded map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded["technologies"], 2)
	assert.Equal(t, "nginx", decoded["technologies"][0]["name"])
	assert.Equal(t, "1.18.0", decoded["technologies"][0]["version"])
	assert.Equal(t, "WordPress", decoded["technologies"][1]["implied_by"])
	// 无版本时字段省略
	_, hasVersion := decoded["technologies"][1]["version"]
	assert.False(t, hasVersion)
}

func TestToJSONEmpty(t *testing.T) {
	data, err := ToJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"technologies": []}`, string(data))
}

func TestGroupByCategory(t *testing.T) {
	techs := []rule.Technology{
		{Name: "nginx", Categories: []string{"Web servers"}, Version: "1.18.0"},
		{Name: "Apache", Categories: []string{"Web servers"}},
		{Name: "Loner"},
	}

	grouped := GroupByCategory(techs)
	assert.Equal(t, []string{"Apache", "nginx 1.18.0"}, grouped["Web servers"])
	assert.Equal(t, []string{"Loner"}, grouped["Miscellaneous"])
}

func TestGetOutputFormat(t *testing.T) {
	assert.Equal(t, "json", GetOutputFormat(true, "out.txt"))
	assert.Equal(t, "csv", GetOutputFormat(false, "out.CSV"))
	assert.Equal(t, "json", GetOutputFormat(false, "out.json"))
	assert.Equal(t, "txt", GetOutputFormat(false, "out.log"))
	assert.Equal(t, "txt", GetOutputFormat(false, ""))
}
