// Package app composes formrelay into a running process.
//
// # Data flow
//
//	browser ──POST──► httpapi ──► relay ──UDP──► ingest.Listener
//	                                                   │
//	                                                   ▼
//	                                             ingest.Writer ──► storage.Store
//
// The HTTP front end never touches the store. Every datagram is decoded by
// the listener and handed to the single writer, which assigns the
// timestamp key and performs the append.
//
// # Lifecycle
//
// Bind opens the UDP socket, the HTTP socket and, when configured, the
// metrics socket. Run starts the writer, listener and servers under one
// errgroup; cancelling its context stops all of them.
package app
