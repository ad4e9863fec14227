// Package errors provides structured error handling for mailidx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: queue errors
//   - 2XX: embedding errors
//   - 3XX: index errors
//   - 4XX: store errors
//   - 5XX: IO errors
//   - 6XX: internal errors
package errors

// Category classifies errors by subsystem.
type Category string

const (
	CategoryQueue    Category = "QUEUE"
	CategoryEmbed    Category = "EMBED"
	CategoryIndex    Category = "INDEX"
	CategoryStore    Category = "STORE"
	CategoryIO       Category = "IO"
	CategoryInternal Category = "INTERNAL"
)

// Severity ranks how hard an error should stop the caller.
type Severity string

const (
	// SeverityFatal is unrecoverable; the operation must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError failed this operation but the process continues.
	SeverityError Severity = "ERROR"
	// SeverityWarning is degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes by category.
const (
	// Queue errors (100-199)
	ErrCodeQueueSaturated = "ERR_101_QUEUE_SATURATED"

	// Embedding errors (200-299)
	ErrCodeEmbedFailed      = "ERR_201_EMBED_FAILED"
	ErrCodeEmbedUnavailable = "ERR_202_EMBED_UNAVAILABLE"
	ErrCodeEmbedTimeout     = "ERR_203_EMBED_TIMEOUT"

	// Index errors (300-399)
	ErrCodeIndexCorrupt       = "ERR_301_INDEX_CORRUPT"
	ErrCodeIndexNotReady      = "ERR_302_INDEX_NOT_READY"
	ErrCodeDimensionMismatch  = "ERR_303_DIMENSION_MISMATCH"
	ErrCodeReindexInProgress  = "ERR_304_REINDEX_IN_PROGRESS"
	ErrCodeSchemaIncompatible = "ERR_305_SCHEMA_INCOMPATIBLE"

	// Store errors (400-499)
	ErrCodeStoreCorrupt = "ERR_401_STORE_CORRUPT"
	ErrCodeStoreClosed  = "ERR_402_STORE_CLOSED"

	// IO errors (500-599)
	ErrCodeFileNotFound   = "ERR_501_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_502_FILE_PERMISSION"

	// Internal errors (600-699)
	ErrCodeInternal = "ERR_601_INTERNAL"
)

// categoryFromCode derives the category from the code's number block.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryQueue
	case '2':
		return CategoryEmbed
	case '3':
		return CategoryIndex
	case '4':
		return CategoryStore
	case '5':
		return CategoryIO
	default:
		return CategoryInternal
	}
}

// retryableCodes are transient failures worth another attempt.
var retryableCodes = map[string]struct{}{
	ErrCodeEmbedFailed:       {},
	ErrCodeEmbedUnavailable:  {},
	ErrCodeEmbedTimeout:      {},
	ErrCodeReindexInProgress: {},
}

func isRetryableCode(code string) bool {
	_, ok := retryableCodes[code]
	return ok
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeStoreCorrupt, ErrCodeInternal:
		return SeverityFatal
	case ErrCodeQueueSaturated:
		return SeverityWarning
	default:
		return SeverityError
	}
}
