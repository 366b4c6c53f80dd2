/*
Package judgeclient provides the worker side of the judge gateway protocol.

Transmission protocol: websocket
Encoding: json or msgpack frames, selected by the codec query parameter

The client keeps one connection open and reconnects with exponential backoff.
Every task delivered by the gateway is acked as soon as it is received, after
that the task belongs to the worker until Finish is called.
*/
package judgeclient
