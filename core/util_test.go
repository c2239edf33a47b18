package core_test

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
)

func TestCleanStrings(t *testing.T) {
	assert.Nil(t, core.CleanStrings(nil))
	assert.Equal(t, []string{"hvac", "plumbing"}, core.CleanStrings([]string{" HVAC ", "", "  ", "Plumbing"}, true))
	assert.Equal(t, "Acme", core.CleanString("  Acme\n"))
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := core.ParseClock(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadLocation(t *testing.T) {
	assert.Equal(t, time.UTC, core.LoadLocation(""))
	assert.Equal(t, time.UTC, core.LoadLocation("Mars/Olympus_Mons"))
	assert.Equal(t, "Europe/Athens", core.LoadLocation("Europe/Athens").String())
}

func TestParseOrdering(t *testing.T) {
	allowed := map[string]string{"name": "name", "created": "created_at"}

	assert.Nil(t, core.ParseOrdering("", allowed))
	assert.Equal(t,
		[]core.DBOrdering{{Field: "created_at", Ascending: false}, {Field: "name", Ascending: true}},
		core.ParseOrdering("-created, bogus, name", allowed),
	)
	assert.Equal(t, "created_at DESC", core.DBOrdering{Field: "created_at"}.String())
}

func TestPageClamp(t *testing.T) {
	assert.Equal(t, core.Page{Limit: 100}, core.Page{}.Clamp(100))
	assert.Equal(t, core.Page{Limit: 100, Offset: 0}, core.Page{Limit: 500, Offset: -3}.Clamp(100))
	assert.Equal(t, core.Page{Limit: 20, Offset: 40}, core.Page{Limit: 20, Offset: 40}.Clamp(100))
}

func TestIsNotFound(t *testing.T) {
	errNF := core.NewNotFoundError("thing not found")
	assert.True(t, core.IsNotFound(errNF))
	assert.True(t, core.IsNotFound(errors.Wrap(errNF, "getting thing")))
	assert.False(t, core.IsNotFound(errors.New("boom")))
	assert.False(t, core.IsNotFound(nil))

	assert.True(t, core.IsShutdown(errors.Wrap(core.NewShutdownError("stop"), "serving")))
}

func TestValidators(t *testing.T) {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())

	type sample struct {
		Name  string `json:"name" validate:"notblank"`
		TZ    string `json:"tz" validate:"tz"`
		Start string `json:"start" validate:"hhmm"`
		Phone string `json:"phone" validate:"omitempty,phone"`
	}

	assert.NoError(t, validate.Struct(sample{Name: "Jo", TZ: "Africa/Lagos", Start: "08:00", Phone: "+2348012345678"}))
	assert.NoError(t, validate.Struct(sample{Name: "Jo", Start: "23:59"}))

	err := validate.Struct(sample{Name: "  ", TZ: "Nowhere/City", Start: "8:00", Phone: "0801"})
	require.Error(t, err)
	var fields []string
	for _, fe := range err.(validator.ValidationErrors) {
		fields = append(fields, fe.Field())
	}
	assert.Equal(t, []string{"name", "tz", "start", "phone"}, fields)
}
