// Package identity verifies the bearer tokens issued by the external auth
// provider with github.com/golang-jwt/jwt/v5 and exposes the resulting Caller
// (profile id, email, role) through the request context.
package identity
