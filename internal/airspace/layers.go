package airspace

import (
	"errors"
	"fmt"
)

// ErrUnknownLayer reports a layer name outside the defined low-altitude
// structure.
var ErrUnknownLayer = errors.New("unknown airspace layer")

// ---------------------------------------------------------------------------
// Low-altitude layer structure
// ---------------------------------------------------------------------------

// Layer is one band of the low-altitude airspace structure.
type Layer uint8

const (
	LayerUltraLow Layer = iota // 0-120m
	LayerLower                 // 120-300m
	LayerMiddle                // 300-600m
	LayerUpper                 // 600-1000m
	layerCount                 // must be last
)

// layerDef holds a layer's band and typical operation types.
type layerDef struct {
	name       string
	floor      float64
	ceiling    float64
	operations []string
}

var layerDefs = [layerCount]layerDef{
	LayerUltraLow: {
		name: "ultra_low", floor: 0, ceiling: 120,
		operations: []string{"infrastructure inspection", "aerial photography", "agricultural spraying"},
	},
	LayerLower: {
		name: "low_low", floor: 120, ceiling: 300,
		operations: []string{"logistics delivery", "emergency response", "urban monitoring"},
	},
	LayerMiddle: {
		name: "low_mid", floor: 300, ceiling: 600,
		operations: []string{"regional transport", "passenger flight", "survey mapping"},
	},
	LayerUpper: {
		name: "low_high", floor: 600, ceiling: 1000,
		operations: []string{"intercity transport", "general aviation", "research flight"},
	},
}

func (l Layer) String() string {
	if l < layerCount {
		return layerDefs[l].name
	}
	return "unknown"
}

// Band returns the layer's floor and ceiling in meters.
func (l Layer) Band() (floor, ceiling float64) {
	if l >= layerCount {
		return 0, 0
	}
	return layerDefs[l].floor, layerDefs[l].ceiling
}

// ParseLayer converts a layer name like "low_mid" to its constant.
func ParseLayer(name string) (Layer, error) {
	for i := Layer(0); i < layerCount; i++ {
		if layerDefs[i].name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}

// LayerForHeight returns the layer containing the given altitude. Heights at
// a boundary belong to the layer above it; heights past 1000m are rejected.
func LayerForHeight(height float64) (Layer, error) {
	for i := Layer(0); i < layerCount; i++ {
		if height >= layerDefs[i].floor && height < layerDefs[i].ceiling {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no layer contains height %vm", ErrUnknownLayer, height)
}

// ---------------------------------------------------------------------------
// Per-layer capacity
// ---------------------------------------------------------------------------

// LayerInfo annotates a capacity report with the analyzed layer.
type LayerInfo struct {
	Name          string   `json:"name"`
	AltitudeRange string   `json:"altitude_range"`
	Operations    []string `json:"typical_operations"`
}

// LayerReport is a capacity report scoped to one altitude layer.
type LayerReport struct {
	Report
	Layer LayerInfo `json:"layer_info"`
}

// LayerCapacity analyzes the given layer using params for everything except
// the height band, which the layer dictates.
func LayerCapacity(layer Layer, params Params) (*LayerReport, error) {
	if layer >= layerCount {
		return nil, fmt.Errorf("%w: layer %d", ErrUnknownLayer, layer)
	}
	def := layerDefs[layer]

	params.FloorM = def.floor
	params.CeilingM = def.ceiling

	report, err := Capacity(params)
	if err != nil {
		return nil, err
	}

	return &LayerReport{
		Report: *report,
		Layer: LayerInfo{
			Name:          def.name,
			AltitudeRange: fmt.Sprintf("%.0f-%.0fm", def.floor, def.ceiling),
			Operations:    def.operations,
		},
	}, nil
}
