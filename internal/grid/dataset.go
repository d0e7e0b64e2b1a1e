// Package grid turns NetCDF grid files into per-variable time x cell tables.
package grid

import (
	"math"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/rotisserie/eris"
)

// Dataset is a typed, read-only view of an open NetCDF file.
type Dataset struct {
	g    api.Group
	path string
}

// Open opens a classic or NetCDF-4 file.
func Open(path string) (*Dataset, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: open %s", path)
	}
	return &Dataset{g: g, path: path}, nil
}

// Close releases the file.
func (d *Dataset) Close() {
	d.g.Close()
}

// Variables lists the variable names in file order.
func (d *Dataset) Variables() []string {
	return d.g.ListVariables()
}

func (d *Dataset) getter(name string) (api.VarGetter, error) {
	vg, err := d.g.GetVarGetter(name)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: variable %s", name)
	}
	return vg, nil
}

// Has reports whether the file holds the named variable.
func (d *Dataset) Has(name string) bool {
	_, err := d.g.GetVarGetter(name)
	return err == nil
}

// Dims returns the dimension names of a variable.
func (d *Dataset) Dims(name string) ([]string, error) {
	vg, err := d.getter(name)
	if err != nil {
		return nil, err
	}
	return vg.Dimensions(), nil
}

// StringAttr returns a text attribute of a variable.
func (d *Dataset) StringAttr(name, key string) (string, bool) {
	vg, err := d.g.GetVarGetter(name)
	if err != nil {
		return "", false
	}
	v, ok := vg.Attributes().Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// numAttr returns the first value of a numeric attribute.
func numAttr(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	vals, _, err := flatten(v)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// Floats reads a variable as a flat row-major float64 slice plus its shape.
// _FillValue and missing_value cells become NaN; scale_factor and add_offset
// are applied to the rest.
func (d *Dataset) Floats(name string) ([]float64, []int, error) {
	vg, err := d.getter(name)
	if err != nil {
		return nil, nil, err
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "grid: read %s", name)
	}
	vals, shape, err := flatten(raw)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "grid: decode %s", name)
	}

	attrs := vg.Attributes()
	fill, hasFill := numAttr(attrs, "_FillValue")
	missing, hasMissing := numAttr(attrs, "missing_value")
	scale, hasScale := numAttr(attrs, "scale_factor")
	offset, hasOffset := numAttr(attrs, "add_offset")

	for i, v := range vals {
		if (hasFill && v == fill) || (hasMissing && v == missing) {
			vals[i] = math.NaN()
			continue
		}
		if hasScale {
			v *= scale
		}
		if hasOffset {
			v += offset
		}
		vals[i] = v
	}
	return vals, shape, nil
}

// flatten walks a (possibly nested) slice of numbers as returned by the
// NetCDF reader. The shape is taken from the first element at each depth and
// ragged input is rejected.
func flatten(v any) ([]float64, []int, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil, eris.New("nil value")
	}

	var shape []int
	for t := rv; t.Kind() == reflect.Slice || t.Kind() == reflect.Array; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}

	n := 1
	for _, s := range shape {
		n *= s
	}
	out := make([]float64, 0, n)

	var walk func(rv reflect.Value, depth int) error
	walk = func(rv reflect.Value, depth int) error {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if depth >= len(shape) || rv.Len() != shape[depth] {
				return eris.New("ragged array")
			}
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i), depth+1); err != nil {
					return err
				}
			}
		case reflect.Float32, reflect.Float64:
			out = append(out, rv.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out = append(out, float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out = append(out, float64(rv.Uint()))
		default:
			return eris.Errorf("unsupported element type %s", rv.Type())
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}
