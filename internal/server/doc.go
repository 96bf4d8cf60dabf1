// Package server wires the hivechat HTTP surface: the gin engine carrying
// the REST routes, the websocket upgrade endpoint, the health check and the
// http.Server lifecycle.
package server
