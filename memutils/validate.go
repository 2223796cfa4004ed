package memutils

// Validatable is used by DebugValidate to check the internal consistency of any type with a
// Validate method
type Validatable interface {
	Validate() error
}
