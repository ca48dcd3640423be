// Package sioserver implements the server side of the Socket.IO protocol.
//
// A Server owns a registry of namespaces and binds each transport
// connection to a Client. The Client decodes incoming frames with its own
// Decoder, routes packets to the Socket joined for their namespace, and
// encodes outgoing packets into one text frame plus one binary frame per
// attachment. The engineio subpackage serves Engine.IO v4 over WebSocket;
// any other transport implementing Conn can be handed to
// Server.HandleConnection.
//
// Serving:
//
//	server := sioserver.NewServer(&sioserver.Config{Logger: logger})
//	server.OnConnect(func(socket *sioserver.Socket) {
//	    socket.On("message", func(args ...interface{}) {
//	        socket.Emit("message", args...)
//	    })
//	    socket.OnDisconnect(func(reason string) {
//	        logger.Info("left", zap.String("reason", reason))
//	    })
//	})
//	http.Handle("/socket.io/", server)
//
// Every client joins the root namespace "/" when it connects. Other
// namespaces must be registered with Of before a client can join them;
// a CONNECT for an unknown name is answered with an ERROR packet.
//
// Any []byte inside event or ack arguments travels as a binary attachment
// and arrives at handlers as []byte again.
//
// If the peer asked for an acknowledgement, the last handler argument is a
// func(...interface{}). Calling it more than once has no further effect.
//
//	socket.On("ping", func(args ...interface{}) {
//	    if ack, ok := args[len(args)-1].(func(...interface{})); ok {
//	        ack("pong")
//	    }
//	})
//
// Handlers run on the goroutine delivering the connection's frames, so one
// client's events are handled in order. Emitting is safe from any goroutine.
// Packets sent after a client closed are dropped silently.
package sioserver
