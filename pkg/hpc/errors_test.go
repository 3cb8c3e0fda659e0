package hpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendErrorUnwrap(t *testing.T) {
	err := &BackendError{Op: "Submit", Backend: "slurm", Err: fmt.Errorf("wrapped: %w", ErrUnavailable)}

	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "slurm Submit")

	withJob := &BackendError{Op: "Cancel", Backend: "slurm", JobID: "42", Err: ErrTimeout}
	assert.Contains(t, withJob.Error(), "job 42")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		rejected  bool
	}{
		{"unavailable is transient", ErrUnavailable, true, false},
		{"timeout is transient", ErrTimeout, true, false},
		{"rejected is permanent", ErrRejected, false, true},
		{"invalid script is permanent", ErrInvalidScript, false, false},
		{
			"wrapped unavailable",
			&BackendError{Op: "Submit", Backend: "slurm", Err: ErrUnavailable},
			true, false,
		},
		{
			"wrapped rejection",
			&BackendError{Op: "Submit", Backend: "slurm", Err: fmt.Errorf("sbatch: %w", ErrRejected)},
			false, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.rejected, IsRejected(tt.err))
		})
	}
}
