// Package relay implements the room and session engine of the relay server.
//
// A Session is admitted from a claimed display name, joins named rooms held in
// a Registry, exchanges messages recorded in a bounded History and receives
// room events through a Broadcaster. The Handler ties these together and
// services one client request at a time, turning every failure into an Ack
// rather than tearing the connection down.
//
// Frames are JSON documents of the form {"event","ack","data"}. The package
// owns no connections: transports drain a session's outbound frames with
// Session.Outbound and feed client requests to Handler.Dispatch.
package relay
