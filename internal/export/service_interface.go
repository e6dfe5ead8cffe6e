package export

import "context"

// ServiceInterface defines the contract for export services.
type ServiceInterface interface {
	// Export writes an archive of the user's logs.
	Export(ctx context.Context, userID string, cfg ExportConfig) (*ExportResult, error)

	// Import restores the user's logs from an archive.
	Import(ctx context.Context, userID string, cfg ImportConfig) (*ImportResult, error)
}

// Ensure *Service implements the interface at compile time.
var _ ServiceInterface = (*Service)(nil)
