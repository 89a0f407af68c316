package config

import "github.com/Tanmayop9/discord-antinuke/internal/models"

// ThresholdMatrix holds one inclusive threshold per verb.
type ThresholdMatrix map[models.Verb]int

// NewThresholdMatrix returns the built-in defaults for every verb.
func NewThresholdMatrix() ThresholdMatrix {
	m := make(ThresholdMatrix, len(models.AllVerbs))
	for _, v := range models.AllVerbs {
		m[v] = v.DefaultThreshold()
	}
	return m
}

// For returns the threshold for a verb, falling back to the verb default.
func (m ThresholdMatrix) For(v models.Verb) int {
	if n, ok := m[v]; ok && n > 0 {
		return n
	}
	return v.DefaultThreshold()
}

// Overlay returns a copy of m with every positive entry of custom applied.
func (m ThresholdMatrix) Overlay(custom map[models.Verb]int) ThresholdMatrix {
	out := make(ThresholdMatrix, len(m))
	for v, n := range m {
		out[v] = n
	}
	for v, n := range custom {
		if n > 0 {
			out[v] = n
		}
	}
	return out
}
