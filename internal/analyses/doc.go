// Package analyses provides the standard calibration analyses built on the
// curve-fitting engine: exponential decay (T1-style), damped-free
// oscillation (Rabi-style), Lorentzian resonance (spectroscopy) and the
// two-series RamseyXY variant. Each bundles a model, algorithmic initial
// guesses, sensible bounds and a domain quality policy.
package analyses
