// Package gridtest writes small NetCDF files for tests.
package gridtest

import (
	"sort"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/require"
)

// Var is one variable of a fixture file.
type Var struct {
	Name   string
	Dims   []string
	Values any
	Attrs  map[string]any
}

// Write creates a classic-format NetCDF file at path.
func Write(t testing.TB, path string, vars ...Var) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	for _, v := range vars {
		err := cw.AddVar(v.Name, api.Variable{
			Values:     v.Values,
			Dimensions: v.Dims,
			Attributes: attrMap(t, v.Attrs),
		})
		require.NoError(t, err, v.Name)
	}
	require.NoError(t, cw.Close())
}

func attrMap(t testing.TB, attrs map[string]any) api.AttributeMap {
	t.Helper()
	keys := make([]string, 0, len(attrs))
	vals := make(map[string]any, len(attrs))
	for k, v := range attrs {
		keys = append(keys, k)
		vals[k] = v
	}
	sort.Strings(keys)
	om, err := util.NewOrderedMap(keys, vals)
	require.NoError(t, err)
	return om
}

// Axes returns the time, lat and lon coordinate variables of a grid.
func Axes(minutes []int32, units string, lats, lons []float64) []Var {
	return []Var{
		{Name: "time", Dims: []string{"time"}, Values: minutes, Attrs: map[string]any{
			"units": units, "calendar": "standard",
		}},
		{Name: "lat", Dims: []string{"lat"}, Values: lats, Attrs: map[string]any{"units": "degrees_north"}},
		{Name: "lon", Dims: []string{"lon"}, Values: lons, Attrs: map[string]any{"units": "degrees_east"}},
	}
}

// Field is a time x lat x lon float32 variable.
func Field(name string, values [][][]float32) Var {
	return Var{Name: name, Dims: []string{"time", "lat", "lon"}, Values: values, Attrs: map[string]any{
		"units": "m s-1",
	}}
}

// WindFile writes a 2x2 grid with one time step holding U50M and V50M.
// The U/V pairs are (3,4), (0,1), (1,1), (2,2).
func WindFile(t testing.TB, path string) {
	t.Helper()
	vars := Axes([]int32{0}, "minutes since 2020-01-01 00:30:00", []float64{-10, -9.5}, []float64{-40, -39.375})
	vars = append(vars,
		Field("U50M", [][][]float32{{{3, 0}, {1, 2}}}),
		Field("V50M", [][][]float32{{{4, 1}, {1, 2}}}),
	)
	Write(t, path, vars...)
}
