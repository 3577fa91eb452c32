package core

// Result is the outcome of one component driver.
type Result struct {
	Component   Component   `json:"component"`
	State       State       `json:"state"`
	Instruction Instruction `json:"instruction"`
	Err         error       `json:"-"`
	// DeviceModified is set when the driver failed after flashing began and the
	// component may need manual recovery.
	DeviceModified bool `json:"deviceModified"`
}

func (r Result) Succeeded() bool {
	return r.State.IsSuccess()
}
