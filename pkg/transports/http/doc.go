// Package http implements the remote CRUD contract against a NetBox-style
// REST API.
//
// The client maps (namespace, collection) pairs onto /api/{namespace}/{collection}/
// paths, follows count/next/results pagination until exhausted, and translates
// HTTP status codes into the engine's error taxonomy: 404 becomes a not-found
// error, 409 a conflict, 400 a write error carrying the server's detail
// message, and transport-level failures become connection or timeout errors.
//
// Every request passes a client-side rate limiter and a circuit breaker. The
// breaker opens after a sustained failure ratio and short-circuits calls to a
// connection error while open, so a struggling server is not hammered by bulk
// runs. This layer never retries; retry decisions belong to the caller.
package http
