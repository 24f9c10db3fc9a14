package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// Block is one Block Kit element of a rich message.
type Block map[string]any

// ActionIDs carried by the interactive buttons.
const (
	ActionApprove  = "approve_proposal"
	ActionReject   = "reject_proposal"
	ActionGenerate = "generate_from_documents"
)

// ButtonValue is the payload round-tripped through an interactive button.
type ButtonValue struct {
	SessionID  string `json:"session_id"`
	ProposalID string `json:"proposal_id"`
}

// Encode serializes the value for embedding in a button.
func (v ButtonValue) Encode() string {
	data, _ := json.Marshal(v)
	return string(data)
}

// DecodeButtonValue parses a button payload back into its identifiers.
func DecodeButtonValue(raw string) (ButtonValue, error) {
	var v ButtonValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ButtonValue{}, fmt.Errorf("decode button value: %w", err)
	}
	if v.SessionID == "" || v.ProposalID == "" {
		return ButtonValue{}, fmt.Errorf("button value missing identifiers: %q", raw)
	}
	return v, nil
}

func section(text string) Block {
	return Block{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextBlock(text string) Block {
	return Block{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

func divider() Block {
	return Block{"type": "divider"}
}

func button(label, style, actionID, value string) map[string]any {
	b := map[string]any{
		"type":      "button",
		"action_id": actionID,
		"value":     value,
		"text":      map[string]any{"type": "plain_text", "text": label},
	}
	if style != "" {
		b["style"] = style
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SummaryText renders the session header posted before the per-proposal
// review messages.
func SummaryText(summary string, proposalCount int) string {
	var b strings.Builder
	b.WriteString(":clipboard: *Analysis complete*")
	if summary != "" {
		b.WriteString("\n")
		b.WriteString(summary)
	}
	if proposalCount > 0 {
		fmt.Fprintf(&b, "\n%d proposed change(s) below await your review.", proposalCount)
	} else {
		b.WriteString("\nNo ticket changes were proposed.")
	}
	return b.String()
}

// ProposalBlocks builds the review message for one proposal, with approve and
// reject buttons that round-trip the session and proposal identifiers.
func ProposalBlocks(p domain.Proposal) []Block {
	target := p.TicketKey
	if target == domain.NewTicketKey {
		target = "New ticket"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "*%s* — `%s`", target, p.ChangeKind)
	if summary := deref(p.TicketSummary); summary != "" {
		fmt.Fprintf(&body, "\n_%s_", summary)
	}
	if field := deref(p.FieldName); field != "" {
		fmt.Fprintf(&body, "\n*Field:* %s", field)
	}
	if current := deref(p.CurrentValue); current != "" {
		fmt.Fprintf(&body, "\n*Current:* %s", current)
	}
	if proposed := deref(p.ProposedValue); proposed != "" {
		fmt.Fprintf(&body, "\n*Proposed:* %s", proposed)
	}

	blocks := []Block{section(body.String())}

	if excerpt := deref(p.SourceExcerpt); excerpt != "" {
		blocks = append(blocks, contextBlock(fmt.Sprintf("Source: %s\n> %s", deref(p.Source), excerpt)))
	}
	blocks = append(blocks, contextBlock(fmt.Sprintf("Confidence: %s · Proposal %s", p.Confidence, p.ProposalID)))

	value := ButtonValue{SessionID: p.SessionID, ProposalID: p.ProposalID}.Encode()
	blocks = append(blocks, Block{
		"type":     "actions",
		"block_id": "proposal_actions",
		"elements": []map[string]any{
			button("Approve", "primary", ActionApprove, value),
			button("Reject", "danger", ActionReject, value),
		},
	})
	return blocks
}

// DecidedBlocks rewrites a review message after the reviewer has acted,
// replacing the buttons with the recorded decision.
func DecidedBlocks(p domain.Proposal, reviewer string) []Block {
	target := p.TicketKey
	if target == domain.NewTicketKey {
		target = "New ticket"
	}

	var verdict string
	switch p.Status {
	case domain.ProposalStatusApproved:
		verdict = ":white_check_mark: Approved"
	case domain.ProposalStatusRejected:
		verdict = ":x: Rejected"
	case domain.ProposalStatusExecuted:
		verdict = ":rocket: Executed"
	case domain.ProposalStatusFailed:
		verdict = ":warning: Failed"
	default:
		verdict = string(p.Status)
	}
	if reviewer != "" {
		verdict += fmt.Sprintf(" by <@%s>", reviewer)
	}

	return []Block{
		section(fmt.Sprintf("*%s* — `%s`", target, p.ChangeKind)),
		contextBlock(verdict),
	}
}

// DocumentsDetectedBlocks announces newly detected source documents with a
// button to run a documents-only sync. The button value carries the owning
// user's ID so the sync uses their credentials.
func DocumentsDetectedBlocks(fileNames []string, ownerID string) []Block {
	var b strings.Builder
	fmt.Fprintf(&b, ":page_facing_up: *%d new document(s) detected*", len(fileNames))
	for _, name := range fileNames {
		b.WriteString("\n• ")
		b.WriteString(name)
	}
	return []Block{
		section(b.String()),
		{
			"type":     "actions",
			"block_id": "document_actions",
			"elements": []map[string]any{
				button("Generate proposals", "primary", ActionGenerate, ownerID),
			},
		},
	}
}

// DispatchSummaryText renders the closing message after the aggregate
// decision dispatch.
func DispatchSummaryText(approved, rejected, executed, failed int) string {
	var b strings.Builder
	b.WriteString(":checkered_flag: *Review complete*")
	fmt.Fprintf(&b, "\nApproved: %d · Rejected: %d", approved, rejected)
	if executed > 0 || failed > 0 {
		fmt.Fprintf(&b, "\nExecuted: %d", executed)
		if failed > 0 {
			fmt.Fprintf(&b, " · Failed: %d", failed)
		}
	}
	return b.String()
}
