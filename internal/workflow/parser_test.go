package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const analysisJSON = `{
	"session_id": "sess-1",
	"analysis_summary": "Two tickets need updates",
	"proposals": [
		{
			"proposal_id": "prop-1",
			"ticket_key": "PROJ-12",
			"change_type": "update_field",
			"field": "description",
			"proposed_value": "New description",
			"confidence": "high"
		},
		{
			"proposal_id": "prop-2",
			"change_type": "create_issue",
			"proposed_value": {"summary": "Follow up on launch", "issue_type": "Task"}
		}
	]
}`

func wrapArtifacts(msg string) RawResult {
	return RawResult{
		"outputs": []any{
			map[string]any{
				"outputs": []any{
					map[string]any{
						"artifacts": map[string]any{"message": msg},
					},
				},
			},
		},
	}
}

func wrapMessages(msg string) RawResult {
	return RawResult{
		"outputs": []any{
			map[string]any{
				"outputs": []any{
					map[string]any{
						"messages": []any{
							map[string]any{"message": msg},
						},
					},
				},
			},
		},
	}
}

func wrapResults(msg any) RawResult {
	return RawResult{
		"outputs": []any{
			map[string]any{
				"outputs": []any{
					map[string]any{
						"results": map[string]any{"message": msg},
					},
				},
			},
		},
	}
}

func TestParseExtractionPaths(t *testing.T) {
	cases := map[string]RawResult{
		"artifacts":         wrapArtifacts(analysisJSON),
		"messages":          wrapMessages(analysisJSON),
		"results dict":      wrapResults(map[string]any{"text": analysisJSON}),
		"results string":    wrapResults(analysisJSON),
		"top-level message": {"message": analysisJSON},
		"top-level text":    {"text": analysisJSON},
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			result := Parse(raw)

			require.Empty(t, result.Err)
			assert.Equal(t, "sess-1", result.SessionID)
			assert.Equal(t, "Two tickets need updates", result.Summary)
			require.Len(t, result.Proposals, 2)
			assert.Equal(t, "PROJ-12", result.Proposals[0].TicketKey)
			assert.Equal(t, "update_field", result.Proposals[0].ChangeKind)
			assert.Equal(t, "New description", result.Proposals[0].ProposedValueString())
			assert.JSONEq(t, `{"summary": "Follow up on launch", "issue_type": "Task"}`, result.Proposals[1].ProposedValueString())
		})
	}
}

func TestParseStripsCodeFences(t *testing.T) {
	for name, wrapped := range map[string]string{
		"json fence": "```json\n" + analysisJSON + "\n```",
		"bare fence": "```\n" + analysisJSON + "\n```",
		"no fence":   analysisJSON,
	} {
		t.Run(name, func(t *testing.T) {
			result := Parse(wrapArtifacts(wrapped))

			require.Empty(t, result.Err)
			assert.Len(t, result.Proposals, 2)
		})
	}
}

func TestParseEscapedQuotes(t *testing.T) {
	escaped := `{\"analysis_summary\": \"ok\", \"proposals\": []}`

	result := Parse(wrapArtifacts(escaped))

	require.Empty(t, result.Err)
	assert.Equal(t, "ok", result.Summary)
}

func TestParseRawControlCharsInStrings(t *testing.T) {
	content := "{\"analysis_summary\": \"line one\nline two\", \"proposals\": []}"

	result := Parse(wrapArtifacts(content))

	require.Empty(t, result.Err)
	assert.Equal(t, "line one\nline two", result.Summary)
}

func TestParseMalformedJSON(t *testing.T) {
	result := Parse(wrapArtifacts("the flow refused to emit JSON today"))

	assert.Contains(t, result.Err, "JSON parse error")
	assert.Empty(t, result.Proposals)
	assert.Contains(t, result.Summary, "the flow refused")
}

func TestParseEmptyResponse(t *testing.T) {
	result := Parse(RawResult{})

	assert.Equal(t, "failed to extract message from response", result.Err)
}

func TestParseSkipsEmptyArtifactMessage(t *testing.T) {
	raw := wrapArtifacts("")
	inner := raw["outputs"].([]any)[0].(map[string]any)["outputs"].([]any)[0].(map[string]any)
	inner["messages"] = []any{map[string]any{"message": analysisJSON}}

	result := Parse(raw)

	require.Empty(t, result.Err)
	assert.Equal(t, "sess-1", result.SessionID)
}

func TestParseTrigger(t *testing.T) {
	payload := `{
		"has_new_files": true,
		"new_files": [{"file_id": "f1", "name": "Weekly sync.pdf", "modified_time": "2024-05-01T10:00:00Z"}],
		"latest_file": {"file_id": "f1", "name": "Weekly sync.pdf", "modified_time": "2024-05-01T10:00:00Z"}
	}`

	result, ok := ParseTrigger(wrapArtifacts("```json\n" + payload + "\n```"))

	require.True(t, ok)
	assert.True(t, result.HasNewFiles)
	require.Len(t, result.NewFiles, 1)
	assert.Equal(t, "f1", result.LatestFile.FileID)
}

func TestParseTriggerUndecodable(t *testing.T) {
	_, ok := ParseTrigger(wrapArtifacts("no files here"))
	assert.False(t, ok)

	_, ok = ParseTrigger(RawResult{})
	assert.False(t, ok)
}

func TestProposedValueStringEmpty(t *testing.T) {
	assert.Empty(t, ProposalDraft{}.ProposedValueString())
	assert.Equal(t, "plain", ProposalDraft{ProposedValue: json.RawMessage(`"plain"`)}.ProposedValueString())
}
