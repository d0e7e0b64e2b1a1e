package export

import (
	"os"
	"path/filepath"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/merra2-cli/internal/model"
)

// Grid layout formats.
const (
	GridGeoJSON   = "geojson"
	GridShapefile = "shapefile"
)

// GridWriter writes the grid cell centres of a group as point layers.
type GridWriter struct {
	Root    string
	Formats []string
}

type cell struct {
	label    string
	lat, lon float64
}

func parseCells(columns []string) ([]cell, error) {
	cells := make([]cell, len(columns))
	for i, c := range columns {
		lat, lon, err := model.ParseCoordLabel(c)
		if err != nil {
			return nil, err
		}
		cells[i] = cell{label: c, lat: lat, lon: lon}
	}
	return cells, nil
}

// Write emits one file per configured format and returns their paths.
func (g *GridWriter) Write(group string, columns []string) ([]string, error) {
	if len(g.Formats) == 0 || len(columns) == 0 {
		return nil, nil
	}
	cells, err := parseCells(columns)
	if err != nil {
		return nil, eris.Wrapf(err, "export: grid of %s", group)
	}
	dir := GroupDir(g.Root, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", dir)
	}

	var paths []string
	for _, f := range g.Formats {
		var path string
		switch f {
		case GridGeoJSON:
			path = filepath.Join(dir, group+"_grid.geojson")
			err = writeGeoJSON(path, cells)
		case GridShapefile:
			path = filepath.Join(dir, group+"_grid.shp")
			err = writeShapefile(path, cells)
		default:
			err = eris.Errorf("export: unknown grid format %q", f)
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeGeoJSON(path string, cells []cell) error {
	fc := geojson.FeatureCollection{}
	for i, c := range cells {
		pt, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{c.lon, c.lat})
		if err != nil {
			return eris.Wrapf(err, "export: point %s", c.label)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       c.label,
			Geometry: pt,
			Properties: map[string]any{
				"label": c.label,
				"lat":   c.lat,
				"lon":   c.lon,
				"cell":  i,
			},
		})
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "export: write %s", path)
	}
	return nil
}

func writeShapefile(path string, cells []cell) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}
	defer w.Close()

	fields := []shp.Field{
		shp.StringField("LABEL", 32),
		shp.FloatField("LAT", 12, 4),
		shp.FloatField("LON", 12, 4),
	}
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "export: shapefile fields")
	}
	for _, c := range cells {
		row := int(w.Write(&shp.Point{X: c.lon, Y: c.lat}))
		for i, v := range []any{c.label, c.lat, c.lon} {
			if err := w.WriteAttribute(row, i, v); err != nil {
				return eris.Wrapf(err, "export: shapefile attribute %s", c.label)
			}
		}
	}
	return nil
}
