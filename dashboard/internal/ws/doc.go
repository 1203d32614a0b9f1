// Package ws implements the WebSocket hub that pushes live updates to
// connected dashboards.
//
// Hub.Run broadcasts a "sources" event with the current source list every
// broadcast interval. Hub.NotifyReload pushes a "reload" event for one
// source as soon as its data file changes. Each connection has a buffered
// send channel drained by writePump; slow clients whose buffer fills up are
// disconnected.
package ws
