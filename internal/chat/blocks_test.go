package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestButtonValueRoundTrip(t *testing.T) {
	encoded := ButtonValue{SessionID: "sess-1", ProposalID: "prop-1"}.Encode()

	decoded, err := DecodeButtonValue(encoded)

	require.NoError(t, err)
	assert.Equal(t, "sess-1", decoded.SessionID)
	assert.Equal(t, "prop-1", decoded.ProposalID)
}

func TestDecodeButtonValueRejectsIncomplete(t *testing.T) {
	_, err := DecodeButtonValue(`{"session_id": "sess-1"}`)
	assert.Error(t, err)

	_, err = DecodeButtonValue("not json")
	assert.Error(t, err)
}

func TestProposalBlocksCarryIdentifiers(t *testing.T) {
	p := domain.Proposal{
		SessionID:     "sess-1",
		ProposalID:    "prop-1",
		TicketKey:     "PROJ-7",
		ChangeKind:    string(domain.ChangeKindUpdateField),
		FieldName:     strPtr("description"),
		ProposedValue: strPtr("Updated description"),
		Confidence:    domain.ConfidenceHigh,
	}

	blocks := ProposalBlocks(p)

	require.NotEmpty(t, blocks)
	actions := blocks[len(blocks)-1]
	require.Equal(t, "actions", actions["type"])

	elements := actions["elements"].([]map[string]any)
	require.Len(t, elements, 2)
	assert.Equal(t, ActionApprove, elements[0]["action_id"])
	assert.Equal(t, ActionReject, elements[1]["action_id"])

	value, err := DecodeButtonValue(elements[0]["value"].(string))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", value.SessionID)
	assert.Equal(t, "prop-1", value.ProposalID)
}

func TestProposalBlocksNewTicketLabel(t *testing.T) {
	p := domain.Proposal{
		SessionID:  "sess-1",
		ProposalID: "prop-2",
		TicketKey:  domain.NewTicketKey,
		ChangeKind: string(domain.ChangeKindCreateIssue),
		Confidence: domain.ConfidenceMedium,
	}

	blocks := ProposalBlocks(p)

	text := blocks[0]["text"].(map[string]any)["text"].(string)
	assert.Contains(t, text, "New ticket")
	assert.NotContains(t, text, domain.NewTicketKey)
}

func TestDecidedBlocksHaveNoButtons(t *testing.T) {
	p := domain.Proposal{
		SessionID:  "sess-1",
		ProposalID: "prop-1",
		TicketKey:  "PROJ-7",
		ChangeKind: string(domain.ChangeKindAddComment),
		Status:     domain.ProposalStatusApproved,
	}

	blocks := DecidedBlocks(p, "U99")

	for _, b := range blocks {
		assert.NotEqual(t, "actions", b["type"])
	}
	verdict := blocks[1]["elements"].([]map[string]any)[0]["text"].(string)
	assert.Contains(t, verdict, "Approved")
	assert.Contains(t, verdict, "U99")
}
