package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbatch/gridbatch/internal/config"
	"github.com/gridbatch/gridbatch/pkg/hpc/local"
	"github.com/gridbatch/gridbatch/pkg/hpc/slurm"
)

func TestBatchIDFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "batch_1.json", want: "1"},
		{path: "batch_42.json", want: "42"},
		{path: "/some/dir/batch_7.json", want: "7"},
		{path: "config.json", wantErr: true},
		{path: "batch_.json", wantErr: true},
		{path: "batch_1.yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := batchIDFromPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildBackend(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		b, err := buildBackend(&config.Settings{HPC: config.HPCSettings{Mode: "local"}})
		require.NoError(t, err)
		assert.IsType(t, &local.Backend{}, b)
	})

	t.Run("slurm", func(t *testing.T) {
		b, err := buildBackend(&config.Settings{HPC: config.HPCSettings{
			Mode: "slurm", Account: "proj", Walltime: "01:00:00",
		}})
		require.NoError(t, err)
		assert.IsType(t, &slurm.Backend{}, b)
	})

	t.Run("slurm missing account", func(t *testing.T) {
		_, err := buildBackend(&config.Settings{HPC: config.HPCSettings{
			Mode: "slurm", Walltime: "01:00:00",
		}})
		assert.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := buildBackend(&config.Settings{HPC: config.HPCSettings{Mode: "pbs"}})
		assert.ErrorContains(t, err, "unsupported hpc mode")
	})
}
