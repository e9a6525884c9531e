package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13299: Execution errors
// 13300-13399: Monitor errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	ConfigurationError  ErrorCode = 10009

	// Database errors (10100-10199)
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Execution Errors (13000-13299) ==========

	// Request (13000-13099)
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	InputTooLarge        ErrorCode = 13004

	// Run lifecycle (13100-13199)
	ExecutionSystemError ErrorCode = 13101
	CompilationError     ErrorCode = 13102
	RuntimeError         ErrorCode = 13103
	TimeLimitExceeded    ErrorCode = 13104
	MemoryLimitExceeded  ErrorCode = 13105
	OutputLimitExceeded  ErrorCode = 13106
	WorkspaceError       ErrorCode = 13107
	ExecutionKilled      ErrorCode = 13108
	AlreadyRunning       ErrorCode = 13109
	NoActiveRun          ErrorCode = 13110

	// ========== Monitor Errors (13300-13399) ==========

	TestNotFound    ErrorCode = 13300
	RoomUnavailable ErrorCode = 13301
	BroadcastFailed ErrorCode = 13302
	NotInRoom       ErrorCode = 13303
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	ConfigurationError:  "Service is misconfigured",

	// Database
	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Execution request
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	InputTooLarge:        "Input chunk is too large",

	// Run lifecycle
	ExecutionSystemError: "Execution system error",
	CompilationError:     "Compilation error",
	RuntimeError:         "Runtime error",
	TimeLimitExceeded:    "Time limit exceeded",
	MemoryLimitExceeded:  "Memory limit exceeded",
	OutputLimitExceeded:  "Output limit exceeded",
	WorkspaceError:       "Failed to prepare the run workspace",
	ExecutionKilled:      "Execution was killed",
	AlreadyRunning:       "A run is already active on this connection",
	NoActiveRun:          "No active run on this connection",

	// Monitor
	TestNotFound:    "Test not found",
	RoomUnavailable: "Monitor room is unavailable",
	BroadcastFailed: "Failed to broadcast snapshot",
	NotInRoom:       "Observer is not in this room",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == TestNotFound, c == RecordNotFound, c == NoActiveRun:
		return 404
	case c == AlreadyRunning:
		return 409
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == RoomUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == InputTooLarge:
		return 400
	default:
		return 500
	}
}
