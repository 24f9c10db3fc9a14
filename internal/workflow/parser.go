package workflow

import (
	"encoding/json"
	"errors"
	"strings"
)

// ProposalDraft is one proposed ticket change as emitted by the flow. Fields
// mirror the loosely-specified LLM output; defaults are applied by the
// orchestrator when persisting.
type ProposalDraft struct {
	ProposalID    string          `json:"proposal_id"`
	TicketKey     string          `json:"ticket_key"`
	TicketSummary string          `json:"ticket_summary"`
	ChangeKind    string          `json:"change_type"`
	FieldName     string          `json:"field"`
	CurrentValue  string          `json:"current_value"`
	ProposedValue json.RawMessage `json:"proposed_value"`
	Source        string          `json:"source"`
	SourceExcerpt string          `json:"source_excerpt"`
	Confidence    string          `json:"confidence"`
}

// ProposedValueString renders the proposed value as display text. Structured
// values keep their JSON form; plain strings are unquoted.
func (d ProposalDraft) ProposedValueString() string {
	if len(d.ProposedValue) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.ProposedValue, &s); err == nil {
		return s
	}
	return string(d.ProposedValue)
}

// Result is the decoded analysis output of a flow invocation. Err is set on
// any extraction or decode failure; Parse never fails harder than that.
type Result struct {
	SessionID     string            `json:"session_id"`
	Summary       string            `json:"analysis_summary"`
	Proposals     []ProposalDraft   `json:"proposals"`
	NoActionItems []json.RawMessage `json:"no_action_items"`
	Err           string            `json:"-"`
}

// TriggerResult is the decoded output of the document-detection trigger flow.
type TriggerResult struct {
	HasNewFiles bool          `json:"has_new_files"`
	NewFiles    []TriggerFile `json:"new_files"`
	LatestFile  TriggerFile   `json:"latest_file"`
}

// TriggerFile describes one detected source document.
type TriggerFile struct {
	FileID       string `json:"file_id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modified_time"`
}

// Parse extracts the flow's message text from the known nested response
// shapes and decodes it as JSON. The flow output is LLM-authored text coerced
// into JSON, so the layered fallbacks and fence handling are load-bearing,
// not defensive excess.
func Parse(raw RawResult) Result {
	content := extractMessage(raw)
	if content == "" {
		return Result{Err: "failed to extract message from response"}
	}

	decoded, err := decodeLooseJSON(content)
	if err != nil {
		return Result{
			Summary: truncate(content, 200),
			Err:     "JSON parse error: " + err.Error(),
		}
	}

	var result Result
	if err := json.Unmarshal(decoded, &result); err != nil {
		return Result{
			Summary: truncate(content, 200),
			Err:     "JSON parse error: " + err.Error(),
		}
	}
	return result
}

// ParseTrigger decodes a trigger-flow response. Returns false when nothing
// decodable was found.
func ParseTrigger(raw RawResult) (*TriggerResult, bool) {
	var result TriggerResult
	if err := Decode(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Decode extracts the flow's message text and unmarshals it into v. Used for
// response shapes beyond the standard analysis result, e.g. execution
// reports.
func Decode(raw RawResult, v any) error {
	content := extractMessage(raw)
	if content == "" {
		return errors.New("failed to extract message from response")
	}
	decoded, err := decodeLooseJSON(content)
	if err != nil {
		return err
	}
	return json.Unmarshal(decoded, v)
}

// extractMessage walks the documented response shapes in precedence order:
// outputs[0].outputs[0].{artifacts.message, messages[0].message,
// results.message(.text)}, then top-level message/text.
func extractMessage(raw RawResult) string {
	if inner := innerOutput(raw); inner != nil {
		if artifacts, ok := inner["artifacts"].(map[string]any); ok {
			if msg := nonEmptyString(artifacts["message"]); msg != "" {
				return msg
			}
		}
		if messages, ok := inner["messages"].([]any); ok && len(messages) > 0 {
			if first, ok := messages[0].(map[string]any); ok {
				if msg := nonEmptyString(first["message"]); msg != "" {
					return msg
				}
			}
		}
		if results, ok := inner["results"].(map[string]any); ok {
			switch message := results["message"].(type) {
			case map[string]any:
				if text := nonEmptyString(message["text"]); text != "" {
					return text
				}
			case string:
				if trimmed := strings.TrimSpace(message); trimmed != "" {
					return trimmed
				}
			}
		}
	}

	if msg := nonEmptyString(raw["message"]); msg != "" {
		return msg
	}
	return nonEmptyString(raw["text"])
}

func innerOutput(raw RawResult) map[string]any {
	outputs, ok := raw["outputs"].([]any)
	if !ok || len(outputs) == 0 {
		return nil
	}
	outer, ok := outputs[0].(map[string]any)
	if !ok {
		return nil
	}
	innerList, ok := outer["outputs"].([]any)
	if !ok || len(innerList) == 0 {
		return nil
	}
	inner, ok := innerList[0].(map[string]any)
	if !ok {
		return nil
	}
	return inner
}

func nonEmptyString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// decodeLooseJSON runs the normalization pipeline over almost-JSON text:
// each pass either yields a decodable document or falls through to the next.
func decodeLooseJSON(content string) (json.RawMessage, error) {
	passes := []func(string) string{
		stripFences,
		unescapeQuotes,
		escapeControlChars,
	}

	text := strings.TrimSpace(content)
	var lastErr error
	for _, pass := range passes {
		text = pass(text)
		if json.Valid([]byte(text)) {
			return json.RawMessage(text), nil
		}
		lastErr = firstDecodeError(text)
	}
	return nil, lastErr
}

// stripFences removes optional Markdown code-fence wrappers (```json / ```).
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-len("```")]
	}
	return strings.TrimSpace(s)
}

// unescapeQuotes handles doubly-serialized output where the flow returned a
// JSON string of JSON (\" for every quote and no bare quotes at all).
func unescapeQuotes(s string) string {
	if strings.Contains(s, `\"`) && !strings.Contains(strings.ReplaceAll(s, `\"`, ""), `"`) {
		return strings.ReplaceAll(s, `\"`, `"`)
	}
	return s
}

// escapeControlChars escapes raw newlines and tabs that LLMs occasionally
// emit inside string literals.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			b.WriteRune(r)
			escaped = true
		case '"':
			b.WriteRune(r)
			inString = !inString
		case '\n':
			if inString {
				b.WriteString(`\n`)
			} else {
				b.WriteRune(r)
			}
		case '\t':
			if inString {
				b.WriteString(`\t`)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstDecodeError(s string) error {
	var v any
	return json.Unmarshal([]byte(s), &v)
}
