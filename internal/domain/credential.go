package domain

import "time"

// TicketConfig holds a user's ticket-system credentials.
type TicketConfig struct {
	URL        string `json:"url"`
	Email      string `json:"email"`
	APIToken   string `json:"api_token"`
	AuthType   string `json:"auth_type"`
	ProjectKey string `json:"project_key"`
}

// DocStoreConfig holds document-store access parameters. The service account
// identity is shared service-wide; per-user records override only FolderID
// and ServiceAccountEmail.
type DocStoreConfig struct {
	ProjectID           string `json:"project_id"`
	ServiceAccountEmail string `json:"service_account_email"`
	PrivateKey          string `json:"private_key"`
	PrivateKeyID        string `json:"private_key_id"`
	ClientID            string `json:"client_id"`
	FolderID            string `json:"folder_id"`
	FolderName          string `json:"folder_name"`
	FileFilter          string `json:"file_filter"`
}

// FlowConfig holds per-user feature flags for the sync pipeline.
type FlowConfig struct {
	DocumentsOnly       bool   `json:"documents_only"`
	NotificationChannel string `json:"notification_channel"`
	AutoApprove         bool   `json:"auto_approve"`
}

// Watermark identifies the last source document already processed for a
// user, used by the scheduler to detect new documents.
type Watermark struct {
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	ModifiedTime string `json:"modified_time"`
	ProcessedAt  string `json:"processed_at"`
}

// CredentialRecord is a per-user integration configuration.
type CredentialRecord struct {
	UserID        string
	Name          string
	Email         string
	Enabled       bool
	TicketConfig  TicketConfig
	DocStore      DocStoreConfig
	FlowConfig    FlowConfig
	LastProcessed Watermark
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
