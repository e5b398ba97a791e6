/*
Package ws bridges the shell and the viewer over WebSocket.

Each window has a stream at /windows/:id/stream. The server pushes
deliveries (script output, debugger steps, diagnostics) and UI requests;
the viewer answers UI requests with ui_response messages correlated by
request ID. Pickers wait for the user; printing and theme requests wait a
bounded time for an acknowledgement; the rest are notifications.

Deliveries for a window with no stream attached are held in a short backlog
and flushed when the viewer connects.
*/
package ws
