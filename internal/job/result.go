package job

import "time"

// Error codes reported in Result.ErrorCode. Converters may report their own.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNoConverter     = "NO_CONVERTER"
	CodeTimeout         = "TIMEOUT"
	CodeCancelled       = "CANCELLED"
	CodeException       = "EXCEPTION"
	CodeFailed          = "FAILED"
)

// Result is the terminal outcome of a job. Exactly one of {Success with
// OutputPaths} or {failure with ErrorCode} holds.
type Result struct {
	Success      bool          `json:"success"`
	OutputPaths  []string      `json:"output_paths,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration"`
	LogPath      string        `json:"log_path,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(outputs []string) *Result {
	return &Result{Success: true, OutputPaths: append([]string(nil), outputs...)}
}

// Failed builds a failed result.
func Failed(code, message string) *Result {
	if code == "" {
		code = CodeFailed
	}
	return &Result{ErrorCode: code, ErrorMessage: message}
}

// Normalize enforces the success/failure exclusivity on a converter-produced result.
func (r *Result) Normalize() {
	if r.Success {
		r.ErrorCode = ""
		r.ErrorMessage = ""
		return
	}
	r.OutputPaths = nil
	if r.ErrorCode == "" {
		r.ErrorCode = CodeFailed
	}
}
