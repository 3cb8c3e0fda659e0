package demo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbatch/gridbatch/pkg/jobs"
)

func TestParametersName(t *testing.T) {
	tests := []struct {
		country string
		want    string
	}{
		{"Brazil", "brazil"},
		{"United States", "united_states"},
		{"united_states", "united_states"},
	}
	for _, tt := range tests {
		p := Parameters{Country: tt.country, Data: "gdp.csv"}
		assert.Equal(t, tt.want, p.Name(), "country %q", tt.country)
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	p := Parameters{Country: "United States", Data: "data/united_states.csv"}

	got, err := Deserialize(p.Serialize())
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, ExtensionName, got.Extension())
}

func TestDeserializeValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing country", map[string]any{jobs.ExtensionKey: ExtensionName, "data": "x.csv"}},
		{"missing data", map[string]any{jobs.ExtensionKey: ExtensionName, "country": "Brazil"}},
		{"wrong extension tag", map[string]any{jobs.ExtensionKey: "other", "country": "Brazil", "data": "x.csv"}},
		{"unknown field", map[string]any{jobs.ExtensionKey: ExtensionName, "country": "Brazil", "data": "x.csv", "extra": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.fields)
			assert.Error(t, err)
		})
	}
}

func TestBuildCommand(t *testing.T) {
	p := Parameters{Country: "Brazil", Data: "data/brazil.csv"}

	cmd, err := BuildCommand(p, "/out/jobs-output/brazil")
	require.NoError(t, err)
	assert.Equal(t, `demo-autoregression --country "Brazil" --data "data/brazil.csv" --output "/out/jobs-output/brazil"`, cmd)
}

func TestAutoConfig(t *testing.T) {
	inputs := t.TempDir()
	for _, name := range []string{"united_states.csv", "brazil.csv", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(inputs, name), []byte("year,gdp\n"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(inputs, "extra"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(inputs, "extra", "japan.csv"), []byte("year,gdp\n"), 0644))

	cfg, err := AutoConfig(inputs, nil)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.NumJobs())

	// Sorted file order, one job per CSV, non-CSV files ignored.
	names := make([]string, 0, 3)
	for _, p := range cfg.Jobs() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"brazil", "japan", "united_states"}, names)

	// Repeat runs over the same inputs are identical.
	again, err := AutoConfig(inputs, nil)
	require.NoError(t, err)
	require.Equal(t, cfg.NumJobs(), again.NumJobs())
	for i := range cfg.Jobs() {
		assert.Equal(t, cfg.Jobs()[i].Name(), again.Jobs()[i].Name())
	}
}

func TestAutoConfigErrors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := AutoConfig(filepath.Join(t.TempDir(), "absent"), nil)
		assert.Error(t, err)
	})

	t.Run("no CSV files", func(t *testing.T) {
		_, err := AutoConfig(t.TempDir(), nil)
		assert.ErrorContains(t, err, "no CSV files")
	})
}

func TestAutoConfigAttachesPostProcess(t *testing.T) {
	inputs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inputs, "brazil.csv"), []byte("year,gdp\n"), 0644))

	post := &jobs.PostProcessSpec{Module: ExtensionName, ClassName: "SummaryReport"}
	cfg, err := AutoConfig(inputs, post)
	require.NoError(t, err)
	assert.Equal(t, post, cfg.PostProcess())
}

func TestExtensionIsRegistered(t *testing.T) {
	reg := jobs.Default()
	require.True(t, reg.IsRegistered(ExtensionName))

	_, err := reg.AutoConfig(ExtensionName)
	assert.NoError(t, err)
	_, err = reg.CommandBuilder(ExtensionName)
	assert.NoError(t, err)
}
