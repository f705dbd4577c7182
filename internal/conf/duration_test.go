package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  Duration
	}{
		{"string seconds", `"15s"`, Duration(15 * time.Second)},
		{"string minutes", `"2m"`, Duration(2 * time.Minute)},
		{"bare seconds", `30`, Duration(30 * time.Second)},
		{"fractional seconds", `1.5`, Duration(1500 * time.Millisecond)},
		{"numeric string", `"45"`, Duration(45 * time.Second)},
		{"null resets", `null`, Duration(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Hour)
			require.NoError(t, json.Unmarshal([]byte(tt.input), &d))
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestDuration_JSONInvalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`"soon"`, `true`, `{}`} {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(input), &d), "input %s", input)
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		Timeout Duration `json:"timeout"`
	}{Duration(20 * time.Second)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout":"20s"}`, string(b))
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	type section struct {
		Timeout Duration `yaml:"timeout"`
	}

	var s section
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 90s"), &s))
	assert.Equal(t, Duration(90*time.Second), s.Timeout)

	require.NoError(t, yaml.Unmarshal([]byte("timeout: 10"), &s))
	assert.Equal(t, Duration(10*time.Second), s.Timeout)

	out, err := yaml.Marshal(section{Timeout: Duration(time.Minute)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "1m0s")

	assert.Error(t, yaml.Unmarshal([]byte("timeout: [1, 2]"), &s))
}

func TestDuration_FlagValue(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.Set("168h"))
	assert.Equal(t, Duration(168*time.Hour), d)
	require.NoError(t, d.Set("45"))
	assert.Equal(t, Duration(45*time.Second), d)
	assert.Error(t, d.Set("a week"))
	assert.Equal(t, "duration", d.Type())
}
