// Package errs holds the error taxonomy shared by the redaction engine.
package errs

// Error is a typed redaction error. Callers wrap the sentinels below with
// fmt.Errorf("%w: ...") and match them with errors.Is.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error types
var (
	// ErrEmptyInput is returned for blank input. It never triggers a fallback.
	ErrEmptyInput = &Error{Type: "empty_input", Message: "input text is empty", Code: 2001}
	// ErrModelLoadTimeout means the NER model did not become ready before the caller's deadline.
	ErrModelLoadTimeout = &Error{Type: "model_load_timeout", Message: "model load timed out", Code: 2002}
	// ErrModelLoadFailure means the NER model load returned an error.
	ErrModelLoadFailure = &Error{Type: "model_load_failure", Message: "model load failed", Code: 2003}
	// ErrInference means the model was loaded but the inference call failed.
	ErrInference = &Error{Type: "inference_error", Message: "inference failed", Code: 2004}
	// ErrPatternApplication indicates a malformed pattern rule. It is never recovered.
	ErrPatternApplication = &Error{Type: "pattern_application", Message: "pattern application failed", Code: 2005}
	// ErrNERDisabled is the outcome reason when no recognizer is configured.
	ErrNERDisabled = &Error{Type: "ner_disabled", Message: "named entity recognition disabled", Code: 2006}
)
