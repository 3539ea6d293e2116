// Package chatdv1 holds the generated protobuf/gRPC client and server
// stubs for the LLM service contract defined in chatd.proto.
//
//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative chatd.proto
package chatdv1
