package offload

import "fmt"

// State is a pipeline run's progress. Runs move strictly forward through
// the states below; there are no recovery transitions.
type State int

const (
	Uninitialized State = iota
	DeviceSelected
	ProgramLoaded
	BuffersBound
	KernelDispatched
	ResultsRetrieved
	Finished
)

var stateNames = [...]string{
	Uninitialized:    "uninitialized",
	DeviceSelected:   "device_selected",
	ProgramLoaded:    "program_loaded",
	BuffersBound:     "buffers_bound",
	KernelDispatched: "kernel_dispatched",
	ResultsRetrieved: "results_retrieved",
	Finished:         "finished",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("offload: unknown state %q", text)
}
