package cerrors

import "fmt"

// Error is the harness error carrying a code from the taxonomy,
// an optional target descriptor and the failure reason
type Error struct {
	ErrorCode ErrorType
	Phase     string
	Target    string
	Reason    string
}

func (e Error) Error() string {
	switch {
	case e.Phase == "" && e.Target == "":
		return e.Reason
	case e.Phase == "":
		return fmt.Sprintf("target: %s, reason: %s", e.Target, e.Reason)
	case e.Target == "":
		return fmt.Sprintf("[%s]: %s", e.Phase, e.Reason)
	}
	return fmt.Sprintf("[%s]: target: %s, reason: %s", e.Phase, e.Target, e.Reason)
}

func (e Error) UserFriendly() bool {
	return true
}

func (e Error) ErrorType() ErrorType {
	return e.ErrorCode
}
