// Package api exposes the HTTP surface: account endpoints, profile and user
// lookup, and the REST fallback for chat history and sending.
package api
