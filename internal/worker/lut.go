package worker

import "fmt"

// NamedLUT builds the 256-entry RGBA lookup table a DepthParams.LUT expects,
// by name. "grayscale" maps linearly to a neutral ramp; "jet" approximates
// the classic blue-to-red thermal palette used by depth viewers.
func NamedLUT(name string) ([]byte, error) {
	switch name {
	case "", "grayscale":
		return grayscaleLUT(), nil
	case "jet":
		return jetLUT(), nil
	default:
		return nil, fmt.Errorf("worker: unknown LUT %q", name)
	}
}

func grayscaleLUT() []byte {
	lut := make([]byte, 256*4)
	for i := 0; i < 256; i++ {
		lut[i*4] = byte(i)
		lut[i*4+1] = byte(i)
		lut[i*4+2] = byte(i)
		lut[i*4+3] = 255
	}
	return lut
}

func jetLUT() []byte {
	lut := make([]byte, 256*4)
	for i := 0; i < 256; i++ {
		t := float64(i) / 255
		lut[i*4] = jetChannel(t - 0.5)
		lut[i*4+1] = jetChannel(t)
		lut[i*4+2] = jetChannel(t + 0.5)
		lut[i*4+3] = 255
	}
	return lut
}

// jetChannel evaluates one triangular color ramp of the jet colormap,
// centered at offset, clamped to [0,1] and scaled to a byte.
func jetChannel(x float64) byte {
	v := 1.5 - 4*abs(x-0.5)
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return byte(v * 255)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
