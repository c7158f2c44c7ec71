package storage

import "codeberg.org/mutker/wifiprovd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidDBPath = errors.ErrorCode("storage_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("storage_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("storage_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("storage_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("storage_transaction_failed")

	// Access Errors
	ErrKeyNotFound   = errors.ErrorCode("storage_key_not_found")
	ErrStorageAccess = errors.ErrorCode("storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
)
