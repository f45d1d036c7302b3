package budget

import "fmt"

// ErrExceeded is returned when usage surpasses configured limits.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	if e.Limit != "" {
		return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
	}
	return fmt.Sprintf("budget %s exceeded: usage=%s", e.Kind, e.Usage)
}

// ErrApprovalRequired indicates that a tool with side effects needs an
// explicit human grant before it may run.
type ErrApprovalRequired struct {
	Tool string
}

func (e ErrApprovalRequired) Error() string {
	return fmt.Sprintf("tool %q requires approval before execution", e.Tool)
}
