package entity

// MutationOption tunes a single create/update/delete request.
type MutationOption func(*MutationConfig)

// MutationConfig holds the per-request switches.
type MutationConfig struct {
	Optimistic     bool // apply to the store before the server confirms
	RetryOnFailure bool // retry transient failures
	Validate       bool // run the validator before anything else
	GenerateID     bool // assign an id to creates that lack one
	Await          bool // wait for the operation to settle before returning
}

// DefaultMutationConfig mirrors the defaults callers get without options.
func DefaultMutationConfig() MutationConfig {
	return MutationConfig{
		Optimistic:     true,
		RetryOnFailure: true,
		Validate:       true,
		GenerateID:     true,
	}
}

// ApplyMutationOptions folds opts over the defaults.
func ApplyMutationOptions(opts ...MutationOption) MutationConfig {
	cfg := DefaultMutationConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithOptimistic toggles the speculative store write.
func WithOptimistic(enabled bool) MutationOption {
	return func(c *MutationConfig) { c.Optimistic = enabled }
}

// WithRetryOnFailure toggles retries of retryable failures.
func WithRetryOnFailure(enabled bool) MutationOption {
	return func(c *MutationConfig) { c.RetryOnFailure = enabled }
}

// WithValidation toggles payload validation.
func WithValidation(enabled bool) MutationOption {
	return func(c *MutationConfig) { c.Validate = enabled }
}

// WithGenerateID toggles id generation for creates.
func WithGenerateID(enabled bool) MutationOption {
	return func(c *MutationConfig) { c.GenerateID = enabled }
}

// WithAwait makes the call wait until its operation succeeds or fails. The
// caller's context bounds only the wait, never the operation.
func WithAwait(enabled bool) MutationOption {
	return func(c *MutationConfig) { c.Await = enabled }
}
