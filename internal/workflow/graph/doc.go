// Package graph validates task dependency graphs and answers structural
// queries over them. Every function is pure: it reads the supplied task slice
// and never mutates it, so callers may share inputs across goroutines.
package graph
