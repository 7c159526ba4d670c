// Package binder fills request structs from the parts of an HTTP request.
// Each binder handles one struct tag, so a handler composes them:
//
//	type cancelRequest struct {
//	    ID     string `path:"id"`
//	    Action string `query:"action"`
//	    Key    string `header:"Idempotency-Key"`
//	}
//
// JSON decodes the body strictly. Query, Path and Header support strings,
// integers, booleans, RFC 3339 timestamps and pointers to those.
package binder
