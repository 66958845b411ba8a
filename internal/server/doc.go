// Package server implements the realtime side of agentchat: websocket
// sessions, the hub that owns live room membership and fans events out, the
// liveness monitor, the protocol dispatcher and the HTTP routes in front of
// them.
//
// Every inbound frame is a JSON object whose "type" is "family:action", for
// example "room:join" or "message:send". Replies and events use the same
// shape. An optional "ref" on a frame is echoed on the direct reply to it so
// clients can correlate concurrent requests.
package server
