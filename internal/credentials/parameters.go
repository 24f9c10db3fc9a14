package credentials

import (
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/workflow"
)

// Flow component slot IDs the agent overrides per invocation.
const (
	SlotTicketReader = "TicketReader-main"
	SlotTicketWriter = "TicketWriter-main"
	SlotDocLoader    = "DocLoader-main"
)

// BuildFlowParameters materializes component overrides for a flow run. Ticket
// credentials go verbatim into both the reader and writer slots. Document
// store access starts from the shared service identity; the per-user record
// may override only the folder id and the service account email.
func BuildFlowParameters(record *domain.CredentialRecord, defaults config.DocStoreDefaults) workflow.Parameters {
	params := workflow.Parameters{}
	if record == nil {
		return params
	}

	if record.TicketConfig.URL != "" {
		ticket := map[string]any{
			"base_url":  record.TicketConfig.URL,
			"email":     record.TicketConfig.Email,
			"api_token": record.TicketConfig.APIToken,
			"auth_type": record.TicketConfig.AuthType,
		}
		if record.TicketConfig.ProjectKey != "" {
			ticket["project_key"] = record.TicketConfig.ProjectKey
		}
		params[SlotTicketReader] = ticket
		params[SlotTicketWriter] = cloneParams(ticket)
	}

	doc := map[string]any{
		"project_id":            defaults.ProjectID,
		"service_account_email": defaults.ServiceAccountEmail,
		"private_key":           defaults.PrivateKey,
		"private_key_id":        defaults.PrivateKeyID,
		"client_id":             defaults.ClientID,
		"folder_id":             defaults.FolderID,
		"file_filter":           defaults.FileFilter,
	}
	if record.DocStore.FolderID != "" {
		doc["folder_id"] = record.DocStore.FolderID
	}
	if record.DocStore.ServiceAccountEmail != "" {
		doc["service_account_email"] = record.DocStore.ServiceAccountEmail
	}
	params[SlotDocLoader] = doc

	return params
}

func cloneParams(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
