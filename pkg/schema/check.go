package schema

import "fmt"

// RemarkSeverity indicates whether a check remark blocks execution.
type RemarkSeverity string

const (
	RemarkError   RemarkSeverity = "error"
	RemarkWarning RemarkSeverity = "warning"
)

// Remark is a single finding produced by a pre-run diagram check or by
// configuration validation.
type Remark struct {
	Subject  string         `json:"subject"` // step name, hop "a->b", or config path
	Message  string         `json:"message"`
	Severity RemarkSeverity `json:"severity"`
}

// CheckResult collects remarks. Warnings never block.
type CheckResult struct {
	Remarks []Remark `json:"remarks,omitempty"`
}

// Errorf appends an error remark.
func (r *CheckResult) Errorf(subject, format string, args ...any) {
	r.Remarks = append(r.Remarks, Remark{Subject: subject, Message: fmt.Sprintf(format, args...), Severity: RemarkError})
}

// Warnf appends a warning remark.
func (r *CheckResult) Warnf(subject, format string, args ...any) {
	r.Remarks = append(r.Remarks, Remark{Subject: subject, Message: fmt.Sprintf(format, args...), Severity: RemarkWarning})
}

// Errors returns only the error remarks.
func (r *CheckResult) Errors() []Remark {
	var out []Remark
	for _, rm := range r.Remarks {
		if rm.Severity == RemarkError {
			out = append(out, rm)
		}
	}
	return out
}

// OK reports whether no error remarks were recorded.
func (r *CheckResult) OK() bool {
	return len(r.Errors()) == 0
}

// ToError converts the result to a CanvasError with the given code, or nil.
func (r *CheckResult) ToError(code string) error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Subject + ": " + errs[0].Message
	if len(errs) > 1 {
		msg = fmt.Sprintf("%d problems found, first: %s", len(errs), msg)
	}
	return NewError(code, msg).WithDetails(map[string]any{"remarks": r.Remarks})
}
