package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbatch/gridbatch/pkg/ledger"
)

type noopPostProcess struct{}

func (noopPostProcess) Run(ctx context.Context, lg *ledger.Ledger, outputDir string) error {
	return nil
}

func TestNewPostProcess(t *testing.T) {
	RegisterPostProcess("testmod", "Noop", func(data map[string]any) (PostProcess, error) {
		if _, ok := data["bad"]; ok {
			return nil, fmt.Errorf("bad payload")
		}
		return noopPostProcess{}, nil
	})

	t.Run("resolves registered pair", func(t *testing.T) {
		pp, err := NewPostProcess(&PostProcessSpec{Module: "testmod", ClassName: "Noop"})
		require.NoError(t, err)
		assert.NotNil(t, pp)
	})

	t.Run("unknown pair fails", func(t *testing.T) {
		_, err := NewPostProcess(&PostProcessSpec{Module: "testmod", ClassName: "Missing"})
		assert.ErrorIs(t, err, ErrUnknownPostProcess)
	})

	t.Run("nil spec fails", func(t *testing.T) {
		_, err := NewPostProcess(nil)
		assert.Error(t, err)
	})

	t.Run("factory validates payload", func(t *testing.T) {
		err := ValidatePostProcess(&PostProcessSpec{
			Module:    "testmod",
			ClassName: "Noop",
			Data:      map[string]any{"bad": true},
		})
		assert.ErrorContains(t, err, "bad payload")
	})
}

func TestLoadPostProcessSpec(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid spec", func(t *testing.T) {
		path := filepath.Join(dir, "post.json")
		require.NoError(t, os.WriteFile(path,
			[]byte(`{"module": "demo", "class_name": "SummaryReport", "data": {"filename": "r.json"}}`), 0644))

		spec, err := LoadPostProcessSpec(path)
		require.NoError(t, err)
		assert.Equal(t, "demo", spec.Module)
		assert.Equal(t, "SummaryReport", spec.ClassName)
		assert.Equal(t, "r.json", spec.Data["filename"])
	})

	t.Run("missing class_name", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"module": "demo"}`), 0644))

		_, err := LoadPostProcessSpec(path)
		assert.ErrorContains(t, err, "class_name")
	})
}
