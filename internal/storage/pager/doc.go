// Package pager sits between the page model and a backend.Storage. It
// encodes and decodes pages, resolves page references lazily, and keeps
// decoded committed pages in a ristretto cache keyed by durable key.
package pager
