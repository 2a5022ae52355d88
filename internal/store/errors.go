package store

import "codeberg.org/mutker/ecgcapture/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("store_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed

	// Case Errors
	ErrCaseNotFound     = errors.ErrorCode("store_case_not_found")
	ErrInvalidPatientID = errors.ErrorCode("store_invalid_patient_id")
	ErrInvalidImage     = errors.ErrorCode("store_invalid_image")
	ErrImageTooLarge    = errors.ErrorCode("store_image_too_large")

	// Journal Errors
	ErrJournalClosed    = errors.ErrorCode("store_journal_closed")
	ErrInvalidEntry     = errors.ErrorCode("store_invalid_entry")
	ErrOperationTimeout = errors.ErrTimeout
)
