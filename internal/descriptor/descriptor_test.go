package descriptor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantName string
		wantArgs []Arg
		wantErr  bool
	}{
		{
			name:     "name with args",
			raw:      "build|env=prod^retries=3",
			wantName: "build",
			wantArgs: []Arg{{Key: "env", Value: "prod"}, {Key: "retries", Value: "3"}},
		},
		{
			name:     "trailing bar yields no args",
			raw:      "cleanup|",
			wantName: "cleanup",
		},
		{
			name:     "blank after bar yields no args",
			raw:      "cleanup|   \n",
			wantName: "cleanup",
		},
		{
			name:     "bare name is trimmed",
			raw:      "  nightly_sync \r\n",
			wantName: "nightly_sync",
		},
		{
			name:     "whitespace around tokens is trimmed",
			raw:      " report | region = us east ^ day=Mon ",
			wantName: "report",
			wantArgs: []Arg{{Key: "region", Value: "us east"}, {Key: "day", Value: "Mon"}},
		},
		{
			name:     "value of only spaces is valid",
			raw:      "job|note=   ^x=1",
			wantName: "job",
			wantArgs: []Arg{{Key: "note", Value: "   "}, {Key: "x", Value: "1"}},
		},
		{
			name:     "tab after value is trimmed",
			raw:      "build|env=prod\t^retries=3",
			wantName: "build",
			wantArgs: []Arg{{Key: "env", Value: "prod"}, {Key: "retries", Value: "3"}},
		},
		{
			name:     "tab before value is trimmed",
			raw:      "build|env=\tprod^retries=3",
			wantName: "build",
			wantArgs: []Arg{{Key: "env", Value: "prod"}, {Key: "retries", Value: "3"}},
		},
		{
			name:     "carriage return inside blob is trimmed",
			raw:      "build|env=prod\r^retries=3",
			wantName: "build",
			wantArgs: []Arg{{Key: "env", Value: "prod"}, {Key: "retries", Value: "3"}},
		},
		{name: "space in bare name", raw: "bad name", wantErr: true},
		{name: "value of only a tab", raw: "job|a=\t^b=1", wantErr: true},
		{name: "empty content", raw: "", wantErr: true},
		{name: "punctuation in name", raw: "deploy-prod|a=1", wantErr: true},
		{name: "token without equals", raw: "job|flag", wantErr: true},
		{name: "token with two equals", raw: "job|a=b=c", wantErr: true},
		{name: "trailing caret leaves empty token", raw: "job|a=1^", wantErr: true},
		{name: "key with space", raw: "job|my key=1", wantErr: true},
		{name: "empty key", raw: "job|=1", wantErr: true},
		{name: "empty value", raw: "job|a=", wantErr: true},
		{name: "value with punctuation", raw: "job|path=/tmp/x", wantErr: true},
		{name: "value with comma", raw: "job|list=a,b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalid), "expected ErrInvalid, got %v", err)
				var verr *ValidationError
				assert.True(t, errors.As(err, &verr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, d.JobName)
			assert.Equal(t, tt.wantArgs, d.Args)
		})
	}
}

func TestParseErrorNamesOffendingToken(t *testing.T) {
	_, err := Parse("job|ok=1^bad token=2")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "bad token=2", verr.Token)
	assert.Contains(t, err.Error(), "bad token=2")
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"build|env=prod^retries=3",
		"deploy|region=us east 1^dry_run=false^Count=10",
		"cleanup",
	}
	for _, raw := range inputs {
		d, err := Parse(raw)
		require.NoError(t, err, raw)

		again, err := Parse(d.String())
		require.NoError(t, err, d.String())
		assert.Equal(t, d, again)
	}
}

func TestRoundTripNormalizesWhitespace(t *testing.T) {
	d, err := Parse(" build |  env = prod ^retries=3 ")
	require.NoError(t, err)
	assert.Equal(t, "build|env=prod^retries=3", d.String())
	assert.Equal(t, "env=prod^retries=3", d.ArgString())
}

func TestArgStringEmpty(t *testing.T) {
	d, err := Parse("cleanup|")
	require.NoError(t, err)
	assert.Equal(t, "", d.ArgString())
	assert.Equal(t, "cleanup", d.String())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Descriptor{JobName: "ok", Args: []Arg{{Key: "a", Value: "b c"}}}.Validate())
	assert.ErrorIs(t, Descriptor{JobName: "not ok"}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Descriptor{JobName: "ok", Args: []Arg{{Key: "a^b", Value: "1"}}}.Validate(), ErrInvalid)
	assert.ErrorIs(t, Descriptor{JobName: "ok", Args: []Arg{{Key: "a", Value: "x=y"}}}.Validate(), ErrInvalid)
}

func TestValidateRejectsTrailingAllSpaceValue(t *testing.T) {
	d := Descriptor{JobName: "job", Args: []Arg{{Key: "a", Value: "b"}, {Key: "k", Value: "   "}}}
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)

	inner := Descriptor{JobName: "job", Args: []Arg{{Key: "k", Value: "   "}, {Key: "a", Value: "b"}}}
	require.NoError(t, inner.Validate())
	parsed, err := Parse(inner.String())
	require.NoError(t, err)
	assert.Equal(t, inner, parsed)
}

// Anything Validate accepts must come back out of Parse.
func TestValidatedDescriptorsParse(t *testing.T) {
	cases := []Descriptor{
		{JobName: "build"},
		{JobName: "build", Args: []Arg{{Key: "env", Value: "prod"}}},
		{JobName: "job", Args: []Arg{{Key: "note", Value: " "}, {Key: "x", Value: "1"}}},
		{JobName: "job", Args: []Arg{{Key: "a", Value: "b"}, {Key: "k", Value: "   "}}},
		{JobName: "job", Args: []Arg{{Key: "k", Value: "  "}}},
	}
	for _, d := range cases {
		if d.Validate() != nil {
			continue
		}
		_, err := Parse(d.String())
		assert.NoError(t, err, "Validate accepted %q but Parse rejects it", d.String())
	}
}
