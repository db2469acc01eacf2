package errs

const (
	ServerInternalError = 1500

	TokenMissingError    = 1001
	TokenInvalidError    = 1002
	SubjectMismatchError = 1003
	BadFrameError        = 1004
	EmptyMessageError    = 1005
	PersistenceError     = 1006
	ConnClosedError      = 1007
	SendQueueFullError   = 1008
	ShuttingDownError    = 1009
	InvalidArgumentError = 1010
)

var (
	ErrTokenMissing    = NewCodeError(TokenMissingError, "token missing")
	ErrTokenInvalid    = NewCodeError(TokenInvalidError, "token invalid")
	ErrSubjectMismatch = NewCodeError(SubjectMismatchError, "token subject does not match user")
	ErrBadFrame        = NewCodeError(BadFrameError, "malformed frame")
	ErrEmptyMessage    = NewCodeError(EmptyMessageError, "message has neither content nor file_url")
	ErrPersistence     = NewCodeError(PersistenceError, "persistence failed")
	ErrConnClosed      = NewCodeError(ConnClosedError, "connection closed")
	ErrSendQueueFull   = NewCodeError(SendQueueFullError, "send queue full")
	ErrShuttingDown    = NewCodeError(ShuttingDownError, "server shutting down")
	ErrArgs            = NewCodeError(InvalidArgumentError, "invalid argument")
	ErrInternal        = NewCodeError(ServerInternalError, "internal error")
)
