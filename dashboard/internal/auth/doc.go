// Package auth provides authentication middleware for the dashboard API.
//
// APIKeyMiddleware(mode, header, key) returns net/http middleware that
// validates the API key from the named request header (or the api_key query
// parameter). When mode != "apikey" or key == "", all requests pass through,
// which suits local use with auth disabled.
package auth
