package router

import "github.com/c360/avatarbridge/param"

// Affect is a set of named emotion intensities in [0, 1]
type Affect struct {
	Joy    float64 `json:"Joy"`
	Angry  float64 `json:"Angry"`
	Sorrow float64 `json:"Sorrow"`
	Fun    float64 `json:"Fun"`
}

// MapPAD converts a pleasure/arousal/dominance triple (each in [-1, 1]) into
// the four affect intensities. Dominance completes the triple but does not
// influence the mapping. Each output is clamped to [0, 1]; the store applies
// its own range clamp on write.
func MapPAD(pleasure, arousal, dominance float64) Affect {
	return Affect{
		Joy:    clamp01((pleasure + arousal) / 2),
		Angry:  clamp01((arousal - pleasure) / 2),
		Sorrow: clamp01((-pleasure - arousal) / 2),
		Fun:    clamp01((pleasure - arousal) / 2),
	}
}

// ApplyAffect writes all four affect intensities to the store
func (r *Router) ApplyAffect(a Affect, source string) {
	r.store.SetFloat(param.NameJoy, a.Joy, source)
	r.store.SetFloat(param.NameAngry, a.Angry, source)
	r.store.SetFloat(param.NameSorrow, a.Sorrow, source)
	r.store.SetFloat(param.NameFun, a.Fun, source)
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
