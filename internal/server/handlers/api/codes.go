package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error

	// Storage errors
	CodeStorageUnavailable = "E_STORAGE_UNAVAILABLE" // metadata store cannot be reached; sync is refused until it recovers

	// File errors
	CodeFileNotFound     = "E_FILE_NOT_FOUND"               // no record or content exists for the path
	CodeFileInvalidPath  = "E_FILE_INVALID_PATH"            // path is empty, absolute or escapes the sync root
	CodeFileTooLarge     = "E_FILE_TOO_LARGE"               // upload exceeds the configured size limit
	CodeFilePutFailed    = "E_FILE_PUT_OPERATION_FAILED"    // a failure while storing uploaded content
	CodeFileGetFailed    = "E_FILE_GET_OPERATION_FAILED"    // a failure while reading stored content
	CodeFileDeleteFailed = "E_FILE_DELETE_OPERATION_FAILED" // a failure while removing content or metadata
	CodeSyncFailed       = "E_SYNC_OPERATION_FAILED"        // reconciliation could not be computed
)
