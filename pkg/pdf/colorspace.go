package pdf

type colorSpace struct {
	family     Name
	components int
	base       *colorSpace
	hival      int
	lookup     []byte
}

var (
	csGray = colorSpace{family: "DeviceGray", components: 1}
	csRGB  = colorSpace{family: "DeviceRGB", components: 3}
	csCMYK = colorSpace{family: "DeviceCMYK", components: 4}
)

// resolveColorSpace interprets a color space name or array. Named spaces
// are looked up in the resource /ColorSpace dictionary.
func (d *Document) resolveColorSpace(obj Object, resources Dictionary) colorSpace {
	obj = d.Resolve(obj)
	if name, ok := obj.(Name); ok {
		switch name {
		case "DeviceGray", "G", "CalGray":
			return csGray
		case "DeviceRGB", "RGB", "CalRGB":
			return csRGB
		case "DeviceCMYK", "CMYK":
			return csCMYK
		case "Pattern":
			return colorSpace{family: "Pattern", components: 1}
		}
		if resources != nil {
			if csDict, ok := d.ResolveDict(resources.Get("ColorSpace")); ok {
				if def := csDict.Get(string(name)); def != nil {
					return d.resolveColorSpace(def, nil)
				}
			}
		}
		return csGray
	}

	arr, ok := obj.(Array)
	if !ok || len(arr) == 0 {
		return csGray
	}
	family, _ := d.Resolve(arr[0]).(Name)
	switch family {
	case "CalGray":
		return csGray
	case "CalRGB", "Lab":
		return csRGB
	case "ICCBased":
		if len(arr) > 1 {
			if dict, ok := d.ResolveDict(arr[1]); ok {
				if n, ok := dict.GetInt("N"); ok {
					switch n {
					case 1:
						return csGray
					case 4:
						return csCMYK
					}
				}
			}
		}
		return csRGB
	case "Indexed", "I":
		if len(arr) < 4 {
			return csGray
		}
		base := d.resolveColorSpace(arr[1], resources)
		hival, _ := Num(d.Resolve(arr[2]))
		var lookup []byte
		switch v := d.Resolve(arr[3]).(type) {
		case String:
			lookup = v.Value
		case Stream:
			lookup, _ = v.Decode()
		}
		return colorSpace{family: "Indexed", components: 1, base: &base, hival: int(hival), lookup: lookup}
	case "Separation":
		return colorSpace{family: "Separation", components: 1}
	case "DeviceN":
		n := 1
		if len(arr) > 1 {
			if names, ok := d.Resolve(arr[1]).(Array); ok {
				n = len(names)
			}
		}
		return colorSpace{family: "DeviceN", components: n}
	case "Pattern":
		return colorSpace{family: "Pattern", components: 1}
	}
	return d.resolveColorSpace(family, resources)
}

// toRGB converts component values in [0, 1] (indices for Indexed).
func (cs colorSpace) toRGB(v []float64) Color {
	get := func(i int) float64 {
		if i < len(v) {
			return clamp01(v[i])
		}
		return 0
	}
	switch cs.family {
	case "DeviceRGB":
		return Color{get(0), get(1), get(2)}
	case "DeviceCMYK":
		c, m, y, k := get(0), get(1), get(2), get(3)
		return Color{(1 - c) * (1 - k), (1 - m) * (1 - k), (1 - y) * (1 - k)}
	case "Indexed":
		idx := 0
		if len(v) > 0 {
			idx = int(v[0])
		}
		return cs.indexed(idx)
	case "Separation", "DeviceN":
		// tint approximated as darkness of a gray ink
		var t float64
		for i := range v {
			t = max(t, clamp01(v[i]))
		}
		g := 1 - t
		return Color{g, g, g}
	case "Pattern":
		return Color{0.5, 0.5, 0.5}
	}
	g := get(0)
	return Color{g, g, g}
}

func (cs colorSpace) indexed(idx int) Color {
	if cs.base == nil {
		return black
	}
	if idx < 0 {
		idx = 0
	}
	if idx > cs.hival {
		idx = cs.hival
	}
	n := cs.base.components
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		pos := idx*n + i
		if pos < len(cs.lookup) {
			vals[i] = float64(cs.lookup[pos]) / 255
		}
	}
	return cs.base.toRGB(vals)
}

// initial returns the initial color after a cs/CS operator.
func (cs colorSpace) initial() Color {
	switch cs.family {
	case "DeviceCMYK":
		return cs.toRGB([]float64{0, 0, 0, 1})
	case "Indexed":
		return cs.indexed(0)
	case "Separation", "DeviceN":
		return cs.toRGB([]float64{1})
	}
	return black
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
