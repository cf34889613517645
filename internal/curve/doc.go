// Package curve implements the generic multi-series curve-fitting engine
// used by calibration analyses.
//
// The pieces compose in dependency order: SeriesDef declares one named
// sub-curve with its fit function and record filter; CompositeModel binds an
// ordered series list into a single callable over the union parameter
// signature; FitOptions carries initial guesses, bounds and solver settings
// for one fit attempt; the formatting pipeline turns raw records into a
// reduced scatter.Table; RunFit tries every FitOptions candidate against the
// formatted data and keeps the one with the smallest reduced chi-squared;
// Analysis ties it all together and emits typed result records, and
// CompositeAnalysis runs several independent Analysis instances over the
// same record set.
package curve
