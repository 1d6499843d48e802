// Package builtins defines the tool packs the server ships with: validate,
// jobs, astro, image, and resume. Each pack is a constructor returning a
// tools.Pack wired to whatever backing services its handlers need.
package builtins
