package errors

// ErrorCode identifies an application error category
type ErrorCode int

const (
	ErrorCode_HTTP_OK ErrorCode = 0

	// General
	ErrorCode_INTERNAL         ErrorCode = 1000
	ErrorCode_INVALID_ARGUMENT ErrorCode = 1001
	ErrorCode_NOT_FOUND        ErrorCode = 1002
	ErrorCode_ALREADY_EXISTS   ErrorCode = 1003
	ErrorCode_UNAUTHENTICATED  ErrorCode = 1004
	ErrorCode_INVALID_PAYLOAD  ErrorCode = 1005

	// Pipeline taxonomy
	ErrorCode_TRANSIENT           ErrorCode = 2000
	ErrorCode_PROVIDER_FAILED     ErrorCode = 2001
	ErrorCode_CORRELATION_FAILED  ErrorCode = 2002
	ErrorCode_STAGE_TIMEOUT       ErrorCode = 2003
	ErrorCode_UNRECOGNIZED_STATE  ErrorCode = 2004
	ErrorCode_NOTIFICATION_BOGUS  ErrorCode = 2005
	ErrorCode_DUPLICATE_HANDOFF   ErrorCode = 2006
	ErrorCode_AGENT_FAILED        ErrorCode = 2007
	ErrorCode_SUMMARY_FAILED      ErrorCode = 2008
	ErrorCode_ARCHIVE_FAILED      ErrorCode = 2009
	ErrorCode_CREDENTIAL_FAILED   ErrorCode = 2010
	ErrorCode_RECORDING_NOT_FOUND ErrorCode = 2011

	// Store
	ErrorCode_STORE_MUTATION_FAILED ErrorCode = 3000
	ErrorCode_STORE_CLOSED          ErrorCode = 3001
	ErrorCode_MIGRATION_FAILED      ErrorCode = 3002

	// Database
	ErrorCode_DB_CONNECTION_FAILED ErrorCode = 4000
	ErrorCode_DB_QUERY_FAILED      ErrorCode = 4001
	ErrorCode_DB_TX_FAILED         ErrorCode = 4002
)

var codeNames = map[ErrorCode]string{
	ErrorCode_HTTP_OK:               "OK",
	ErrorCode_INTERNAL:              "INTERNAL",
	ErrorCode_INVALID_ARGUMENT:      "INVALID_ARGUMENT",
	ErrorCode_NOT_FOUND:             "NOT_FOUND",
	ErrorCode_ALREADY_EXISTS:        "ALREADY_EXISTS",
	ErrorCode_UNAUTHENTICATED:       "UNAUTHENTICATED",
	ErrorCode_INVALID_PAYLOAD:       "INVALID_PAYLOAD",
	ErrorCode_TRANSIENT:             "TRANSIENT",
	ErrorCode_PROVIDER_FAILED:       "PROVIDER_FAILED",
	ErrorCode_CORRELATION_FAILED:    "CORRELATION_FAILED",
	ErrorCode_STAGE_TIMEOUT:         "STAGE_TIMEOUT",
	ErrorCode_UNRECOGNIZED_STATE:    "UNRECOGNIZED_STATE",
	ErrorCode_NOTIFICATION_BOGUS:    "NOTIFICATION_BOGUS",
	ErrorCode_DUPLICATE_HANDOFF:     "DUPLICATE_HANDOFF",
	ErrorCode_AGENT_FAILED:          "AGENT_FAILED",
	ErrorCode_SUMMARY_FAILED:        "SUMMARY_FAILED",
	ErrorCode_ARCHIVE_FAILED:        "ARCHIVE_FAILED",
	ErrorCode_CREDENTIAL_FAILED:     "CREDENTIAL_FAILED",
	ErrorCode_RECORDING_NOT_FOUND:   "RECORDING_NOT_FOUND",
	ErrorCode_STORE_MUTATION_FAILED: "STORE_MUTATION_FAILED",
	ErrorCode_STORE_CLOSED:          "STORE_CLOSED",
	ErrorCode_MIGRATION_FAILED:      "MIGRATION_FAILED",
	ErrorCode_DB_CONNECTION_FAILED:  "DB_CONNECTION_FAILED",
	ErrorCode_DB_QUERY_FAILED:       "DB_QUERY_FAILED",
	ErrorCode_DB_TX_FAILED:          "DB_TX_FAILED",
}

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}
