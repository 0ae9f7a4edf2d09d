package gormjournal

import (
	"encoding/json"
	"fmt"

	"github.com/anchorcast/anchorcast/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// ToEventRow converts a lifecycle event to its table row. It fails only when
// the pose cannot be encoded, e.g. a NaN from a lost pose estimate.
func ToEventRow(e *core.LifecycleEvent) (EventRow, error) {
	row := EventRow{
		SessionID:   e.SessionID,
		Time:        e.Time,
		Frame:       e.Frame,
		Identity:    string(e.Identity),
		ConfigIndex: e.ConfigIndex,
		Kind:        string(e.Kind),
		ExtentX:     e.Extent.X,
		ExtentZ:     e.Extent.Z,
		Detail:      e.Detail,
	}
	if e.Pose != nil {
		data, err := json.Marshal(e.Pose)
		if err != nil {
			return EventRow{}, fmt.Errorf("encoding pose of %s: %w", e.Identity, err)
		}
		row.Pose = datatypes.JSON(data)
		row.Anchor = anchorPoint(e.Pose.Position).AsText()
		if fp, ok := footprint(e.Pose.Position, e.Extent); ok {
			row.Footprint = fp.AsText()
		}
	}
	return row, nil
}

// FromEventRow converts a row back to a lifecycle event.
func FromEventRow(row EventRow) core.LifecycleEvent {
	e := core.LifecycleEvent{
		ID:          row.ID,
		SessionID:   row.SessionID,
		Time:        row.Time,
		Frame:       row.Frame,
		Identity:    core.Identity(row.Identity),
		ConfigIndex: row.ConfigIndex,
		Kind:        core.LifecycleKind(row.Kind),
		Extent:      core.Extent{X: row.ExtentX, Z: row.ExtentZ},
		Detail:      row.Detail,
	}
	if len(row.Pose) > 0 {
		var p core.Pose
		if err := json.Unmarshal(row.Pose, &p); err == nil {
			e.Pose = &p
		}
	}
	return e
}

func anchorPoint(p core.Vec3) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: float64(p.X), Y: float64(p.Z)}})
}

// footprint is the marker's extent centred on its anchor.
func footprint(p core.Vec3, ext core.Extent) (geom.Polygon, bool) {
	if ext.X <= 0 || ext.Z <= 0 {
		return geom.Polygon{}, false
	}
	cx, cz := float64(p.X), float64(p.Z)
	hx, hz := float64(ext.X)/2, float64(ext.Z)/2
	coords := []float64{
		cx - hx, cz - hz,
		cx + hx, cz - hz,
		cx + hx, cz + hz,
		cx - hx, cz + hz,
		cx - hx, cz - hz,
	}
	ring := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring}), true
}
