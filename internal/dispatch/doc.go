// Package dispatch sends API calls to the backend's single RPC endpoint with the
// current bearer credential attached.
//
// # Credentials
//
// Transport reads the access token from the credential store on every request, not
// from the in-memory session, so calls made before the session has finished loading
// still authenticate. Without a stored token the request is sent unauthenticated
// and the server decides.
//
// # Batching
//
// Client coalesces calls issued within a short window into one HTTP round trip using
// the tRPC batch wire format:
//
//	POST /trpc/auth.login,auth.register?batch=1
//	{"0": {...}, "1": {...}}
//
// answered by a JSON array in request order. Every caller receives the element at
// its own index, so one failing call never masks the others. Queries (GET) and
// mutations (POST) are batched separately.
//
//	c, _ := dispatch.New("http://localhost:3000", "/trpc", store)
//	var me session.UserIdentity
//	err := c.Query(ctx, "auth.me", nil, &me)
//
// Failed calls are never retried and a 401 does not trigger a token refresh.
package dispatch
