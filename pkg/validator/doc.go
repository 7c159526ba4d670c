// Package validator composes field checks into a single ValidationErrors
// value.
//
//	err := validator.Apply(
//	    validator.Required("package_name", in.Name),
//	    validator.Slug("slug", in.Slug),
//	    validator.Positive("price", in.Price),
//	)
//
// Rules are plain values, so call sites list every check for an input in one
// place and get all failures back at once instead of the first.
package validator
