package memprobe

import "sync"

// FakeProbe is a deterministic Probe for AutoscaledPool scaling tests.
type FakeProbe struct {
	mu     sync.Mutex
	sample Sample
	err    error
}

// NewFakeProbe returns a FakeProbe that always reports sample until
// reconfigured.
func NewFakeProbe(sample Sample) *FakeProbe {
	return &FakeProbe{sample: sample}
}

// Set updates the sample returned by subsequent Get calls.
func (f *FakeProbe) Set(sample Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = sample
}

// SetErr makes the next Get calls fail with err. Pass nil to clear.
func (f *FakeProbe) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Get returns the configured sample or error.
func (f *FakeProbe) Get() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Sample{}, f.err
	}
	return f.sample, nil
}
