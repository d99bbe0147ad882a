// Package httpapi exposes session registries over HTTP and provides the
// matching client.
//
// Wire format
//
// Each hosted kind is served at POST {base}/{kind} as JSON-RPC 2.0, one
// request per body:
//
//	session.initialize  {resource_name, behavior, params}   -> {session_id, newly_created}
//	session.close       {session_id}                        -> {closed}
//	session.invoke      {session_id, operation, params}     -> operation result
//	kind.describe                                           -> kind descriptor with JSON schemas
//	kind.sessions                                           -> {sessions: [...]}
//
// Registry failures are JSON-RPC errors whose data.code is the registry code
// (INVALID_ARGUMENT, ALREADY_EXISTS, NOT_FOUND, PERMISSION_DENIED, INTERNAL).
// Requests rejected before dispatch (content type, body, authentication,
// unknown kind) get a non-200 status and the body
// {"error":{"code":<status>,"message":...}}.
//
// Client maps both back to *registry.Error, so code written against
// client.LocalTransport behaves the same over HTTP. An unknown kind is
// InvalidArgument on either transport; IsStatus(err, http.StatusNotFound)
// tells it apart from other rejections.
package httpapi
