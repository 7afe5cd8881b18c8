package kernel

// Error describes a kernel error. All kernel errors are defined as package
// level variables that point to an Error so they can be returned and compared
// by identity without going through errors.New.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error message tagged with the module that reported it.
func (e *Error) String() string {
	if e.Module == "" {
		return e.Message
	}

	return "[" + e.Module + "] " + e.Message
}
