// Package transport is the caller side of the relay protocol: one
// connection per command, one correlated reply, and a {success,result,error}
// Result instead of Go errors.
package transport
