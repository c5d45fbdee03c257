package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWorkflow() Workflow {
	return Workflow{
		ID:   "cbc",
		Name: "Complete blood count",
		Sections: []Section{
			{ID: "reception", Name: "Reception", Order: 0},
			{ID: "hematology", Name: "Hematology", Order: 1, Parameters: []ParameterField{
				{Name: "wbc", Type: ParameterNumber, Required: true},
				{Name: "comment", Type: ParameterText, Default: "none"},
			}},
			{ID: "review", Name: "Review", Order: 2, Parameters: []ParameterField{
				{Name: "attachment", Type: ParameterFile},
			}},
		},
	}
}

func TestWorkflow_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(w *Workflow)
		wantErrMsg string
	}{
		{
			name:   "valid workflow",
			mutate: func(w *Workflow) {},
		},
		{
			name:       "missing id",
			mutate:     func(w *Workflow) { w.ID = "" },
			wantErrMsg: "workflow id is required",
		},
		{
			name:       "no sections",
			mutate:     func(w *Workflow) { w.Sections = nil },
			wantErrMsg: "has no sections",
		},
		{
			name:       "duplicate order",
			mutate:     func(w *Workflow) { w.Sections[2].Order = 1 },
			wantErrMsg: "share order 1",
		},
		{
			name:       "gap in orders",
			mutate:     func(w *Workflow) { w.Sections[2].Order = 5 },
			wantErrMsg: "missing 2",
		},
		{
			name:       "unknown parameter type",
			mutate:     func(w *Workflow) { w.Sections[1].Parameters[0].Type = "date" },
			wantErrMsg: "unknown type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := sampleWorkflow()
			tt.mutate(&w)
			err := w.Validate()
			if tt.wantErrMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErrMsg)
		})
	}
}

func TestWorkflow_SectionAt(t *testing.T) {
	w := sampleWorkflow()

	s, ok := w.SectionAt(1)
	require.True(t, ok)
	assert.Equal(t, "hematology", s.ID)

	_, ok = w.SectionAt(3)
	assert.False(t, ok)
	assert.Equal(t, 2, w.LastOrder())
	assert.Equal(t, -1, Workflow{}.LastOrder())
}

func TestSection_Template(t *testing.T) {
	w := sampleWorkflow()
	tpl := w.Sections[1].Template()

	assert.Equal(t, map[string]string{"wbc": "", "comment": "none"}, tpl)
	assert.Empty(t, w.Sections[0].Template())
}

func TestSection_ValidateParameters(t *testing.T) {
	section := sampleWorkflow().Sections[1]

	tests := []struct {
		name     string
		params   map[string]string
		complete bool
		wantErr  string
	}{
		{name: "valid number", params: map[string]string{"wbc": "6.2"}, complete: true},
		{name: "draft without required", params: map[string]string{"comment": "hemolysed"}},
		{name: "required missing on complete", params: map[string]string{"comment": "x"}, complete: true, wantErr: `"wbc" is required`},
		{name: "not a number", params: map[string]string{"wbc": "high"}, wantErr: "must be a number"},
		{name: "unknown key", params: map[string]string{"rbc": "4"}, wantErr: `unknown parameter "rbc"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := section.ValidateParameters(tt.params, tt.complete)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParameters)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
