package sentinel

import "fmt"

// CircuitOpenError is the only error the kernel itself raises through
// Execute. It is structurally identifiable across module boundaries via
// errors.As, so callers can distinguish "the circuit is blocking" from
// any error their guarded function returned.
type CircuitOpenError struct {
	CircuitID string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("sentinel: circuit %q is open", e.CircuitID)
}

// ConfigError reports a synchronous construction-time misconfiguration,
// e.g. a required field left unset in Config.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sentinel: config: %s: %s", e.Field, e.Message)
}

// LifecycleError reports a violation of the lifecycle state machine's
// rules (§4.1): starting with a different config while already
// starting/operational, or operating on an unrecoverable instance. Start
// and Stop wrap the internal lifecycle package's phase-specific errors in
// one of these at the API boundary, so callers outside this module never
// need to import an internal package to recognize the failure shape.
type LifecycleError struct {
	Phase   string
	Message string
	Cause   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("sentinel: lifecycle(%s): %s", e.Phase, e.Message)
}

func (e *LifecycleError) Unwrap() error { return e.Cause }
