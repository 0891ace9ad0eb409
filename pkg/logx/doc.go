// Package logx is a thin structured-logging layer over zerolog.
//
// Components accept a logx.Logger by value; the zero value is a safe no-op,
// so tests and optional dependencies never need nil checks.
package logx
