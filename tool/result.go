package tool

// Status tags the outcome of one invocation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusNotFound        Status = "not_found"
	StatusValidationError Status = "validation_error"
	StatusUnauthorized    Status = "unauthorized"
	StatusExecutionError  Status = "execution_error"
)

// Result is the tagged outcome of Pipeline.Invoke. Output is set only when
// Status is StatusSuccess; Error is set for every other status.
type Result struct {
	CallID string     `json:"call_id"`
	Status Status     `json:"status"`
	Output any        `json:"output,omitempty"`
	Error  *ToolError `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err returns the result error, or nil on success.
func (r Result) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

func successResult(callID string, output any) Result {
	return Result{CallID: callID, Status: StatusSuccess, Output: output}
}

func errorResult(callID string, err *ToolError) Result {
	return Result{CallID: callID, Status: statusForCode(err.Code), Error: err}
}

func statusForCode(code string) Status {
	switch code {
	case ErrorCodeNotFound:
		return StatusNotFound
	case ErrorCodeValidation:
		return StatusValidationError
	case ErrorCodeUnauthorized:
		return StatusUnauthorized
	default:
		return StatusExecutionError
	}
}
