// Package ent holds the generated entgo.io/ent client.
//
//go:generate go run -mod=mod entgo.io/ent/cmd/ent generate ./schema
package ent
