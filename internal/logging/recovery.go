package logging

import (
	"fmt"
	"runtime/debug"
)

// PanicError is a panic recovered by Guard.
type PanicError struct {
	Component string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Component, e.Value)
}

// Guard runs fn and converts a panic into a *PanicError, logging it with
// the stack at error level.
func Guard(component string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			perr := &PanicError{Component: component, Value: v, Stack: string(debug.Stack())}
			New(component).Error("panic_recovered", map[string]any{"stack": perr.Stack}, perr)
			err = perr
		}
	}()
	return fn()
}
