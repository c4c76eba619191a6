package fisheye

import (
	"strconv"

	"github.com/samber/lo"
)

// SensorType and SensorSubtype identify the sensor in a catalog of sensor definitions.
const (
	SensorType    = "camera"
	SensorSubtype = "fisheye"
)

// AttributeType is the value type of an attribute.
type AttributeType string

// AttributeTypeFloat is the only type the fisheye camera uses.
const AttributeTypeFloat AttributeType = "float"

// An AttributeDefinition describes one configurable attribute.
type AttributeDefinition struct {
	ID                    string        `json:"id"`
	Type                  AttributeType `json:"type"`
	RecommendedValues     []string      `json:"recommended_values"`
	RestrictToRecommended bool          `json:"restrict_to_recommended"`
}

// A SensorDefinition lists what can be configured on a sensor.
type SensorDefinition struct {
	ID         string                `json:"id"`
	Attributes []AttributeDefinition `json:"attributes"`
}

// Attribute returns the attribute with the given id.
func (d SensorDefinition) Attribute(id string) (AttributeDefinition, bool) {
	return lo.Find(d.Attributes, func(attr AttributeDefinition) bool { return attr.ID == id })
}

// attributeOrder is the order attributes are listed in the definition.
var attributeOrder = []string{
	AttrImageSizeX, AttrImageSizeY, AttrFOV, AttrFx, AttrFy, AttrCx, AttrCy, AttrD1, AttrD2, AttrD3, AttrD4,
}

// Definition returns the attributes of the fisheye camera with the defaults as recommended values.
func Definition() SensorDefinition {
	defaults := DefaultParameters().attributes()
	return SensorDefinition{
		ID: SensorType + "." + SensorSubtype,
		Attributes: lo.Map(attributeOrder, func(id string, _ int) AttributeDefinition {
			return AttributeDefinition{
				ID:                id,
				Type:              AttributeTypeFloat,
				RecommendedValues: []string{formatFloat(defaults[id])},
			}
		}),
	}
}

// Attributes returns p as raw attributes that Update turns back into p.
func (p Parameters) Attributes() map[string]interface{} {
	return lo.MapValues(p.attributes(), func(v float64, _ string) interface{} { return v })
}

func (p Parameters) attributes() map[string]float64 {
	return map[string]float64{
		AttrImageSizeX: float64(p.Width),
		AttrImageSizeY: float64(p.Height),
		AttrFOV:        p.MaxAngle,
		AttrFx:         p.Fx,
		AttrFy:         p.Fy,
		AttrCx:         p.Cx,
		AttrCy:         p.Cy,
		AttrD1:         p.D1,
		AttrD2:         p.D2,
		AttrD3:         p.D3,
		AttrD4:         p.D4,
	}
}

// formatFloat prints whole numbers with one decimal so sizes read as floats.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == float64(int64(v)) {
		s += ".0"
	}
	return s
}
