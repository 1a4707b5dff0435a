package exeup

import "fmt"

// SlotErr reports problems with the payload slot of an executable.
type SlotErr string

func (o *SlotErr) Error() string {
	return string(*o)
}

func newSlotErr(format string, a ...interface{}) *SlotErr {
	err := SlotErr(fmt.Sprintf(format, a...))
	return &err
}
