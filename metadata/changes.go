package metadata

import "fmt"

// FencingChange is the Fenced field of a BrokerRegistrationChangeRecord
type FencingChange int8

const (
	Unfence         FencingChange = -1
	NoFencingChange FencingChange = 0
	Fence           FencingChange = 1
)

// FencingChangeFromValue validates a wire value
func FencingChangeFromValue(v int8) (FencingChange, error) {
	switch c := FencingChange(v); c {
	case Unfence, NoFencingChange, Fence:
		return c, nil
	default:
		return 0, fmt.Errorf("unknown fencing change value %d", v)
	}
}

// AsBool returns the change as the optional taken by CloneWith
func (c FencingChange) AsBool() *bool {
	switch c {
	case Fence:
		return boolPtr(true)
	case Unfence:
		return boolPtr(false)
	default:
		return nil
	}
}

// InControlledShutdownChange is the InControlledShutdown field of a BrokerRegistrationChangeRecord
type InControlledShutdownChange int8

const (
	NoControlledShutdownChange InControlledShutdownChange = 0
	EnterControlledShutdown    InControlledShutdownChange = 1
)

// InControlledShutdownChangeFromValue validates a wire value
func InControlledShutdownChangeFromValue(v int8) (InControlledShutdownChange, error) {
	switch c := InControlledShutdownChange(v); c {
	case NoControlledShutdownChange, EnterControlledShutdown:
		return c, nil
	default:
		return 0, fmt.Errorf("unknown controlled shutdown change value %d", v)
	}
}

// AsBool returns the change as the optional taken by CloneWith.
// Leaving controlled shutdown only happens through a new registration.
func (c InControlledShutdownChange) AsBool() *bool {
	if c == EnterControlledShutdown {
		return boolPtr(true)
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
