package sioserver_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	sio "github.com/ramory-l/sioserver"
)

var _ = Describe("Server", func() {
	var server *sio.Server

	BeforeEach(func() {
		server = sio.NewServer(&sio.Config{Logger: zap.NewNop()})
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Of()", func() {
		It("always has the root namespace", func() {
			Expect(server.Of("/").Name()).To(Equal("/"))
			Expect(server.Of("")).To(BeIdenticalTo(server.Of("/")))
		})

		It("returns the same namespace for the same name", func() {
			admin := server.Of("/admin")
			Expect(server.Of("/admin")).To(BeIdenticalTo(admin))
			Expect(admin.Name()).To(Equal("/admin"))
		})

		It("adds the leading slash to bare names", func() {
			Expect(server.Of("admin")).To(BeIdenticalTo(server.Of("/admin")))
			Expect(server.Of("admin").Name()).To(Equal("/admin"))
		})
	})

	Describe("HandleConnection()", func() {
		It("joins the root namespace and notifies every listener", func() {
			var first, second *sio.Socket
			server.OnConnect(func(s *sio.Socket) { first = s })
			server.Of("/").OnConnect(func(s *sio.Socket) { second = s })

			client := server.HandleConnection(newFakeConn("conn-1"))

			Expect(first).NotTo(BeNil())
			Expect(second).To(BeIdenticalTo(first))
			Expect(first.Client()).To(BeIdenticalTo(client))

			socket, ok := server.Of("/").GetSocket("conn-1")
			Expect(ok).To(BeTrue())
			Expect(socket).To(BeIdenticalTo(first))
			Expect(server.Clients()).To(Equal(1))
		})

		It("forgets clients once they close", func() {
			conn := newFakeConn("conn-1")
			server.HandleConnection(conn)

			conn.remoteClose()

			Expect(server.Clients()).To(Equal(0))
			Expect(server.Of("/").Sockets()).To(BeEmpty())
		})
	})

	Describe("namespace routing", func() {
		var conn *fakeConn

		BeforeEach(func() {
			conn = newFakeConn("conn-1")
		})

		It("joins a registered namespace on connect", func() {
			var admin *sio.Socket
			server.Of("/admin").OnConnect(func(s *sio.Socket) { admin = s })
			server.HandleConnection(conn)

			conn.receiveText("0/admin,")

			Expect(admin).NotTo(BeNil())
			Expect(admin.Namespace().Name()).To(Equal("/admin"))
			Expect(conn.Texts()).To(Equal([]string{`0{"sid":"conn-1"}`, `0/admin,{"sid":"conn-1"}`}))

			var received []interface{}
			admin.On("stats", func(data ...interface{}) { received = data })
			conn.receiveText(`2/admin,["stats",true]`)
			Expect(received).To(Equal([]interface{}{true}))
		})

		It("ignores a connect for a namespace already joined", func() {
			calls := 0
			server.OnConnect(func(s *sio.Socket) { calls++ })
			server.HandleConnection(conn)

			conn.receiveText("0")

			Expect(calls).To(Equal(1))
			Expect(conn.Texts()).To(HaveLen(1))
		})

		It("rejects a connect for an unknown namespace", func() {
			server.HandleConnection(conn)

			conn.receiveText("0/nope,")

			Expect(conn.Texts()).To(ContainElement(`4/nope,{"message":"Invalid namespace"}`))
			Expect(conn.CloseCalls()).To(Equal(0))
		})

		It("does not track or announce a socket whose client closed while joining", func() {
			joined := false
			server.Of("/admin").OnConnect(func(s *sio.Socket) { joined = true })
			server.HandleConnection(conn)

			conn.setWriteErr(errors.New("broken pipe"))
			conn.receiveText("0/admin,")

			Expect(joined).To(BeFalse())
			Expect(server.Of("/admin").Sockets()).To(BeEmpty())
			Expect(server.Clients()).To(Equal(0))
		})

		It("does not join a closed client", func() {
			client := server.HandleConnection(conn)
			client.Disconnect()

			server.Of("/admin")
			conn.receiveText("0/admin,")

			Expect(server.Of("/admin").Sockets()).To(BeEmpty())
		})

		It("disconnects every joined namespace when the connection closes", func() {
			var reasons []string
			server.OnConnect(func(s *sio.Socket) {
				s.OnDisconnect(func(r string) { reasons = append(reasons, "/:"+r) })
			})
			server.Of("/admin").OnConnect(func(s *sio.Socket) {
				s.OnDisconnect(func(r string) { reasons = append(reasons, "/admin:"+r) })
			})
			server.HandleConnection(conn)
			conn.receiveText("0/admin,")

			conn.remoteClose()

			Expect(reasons).To(ConsistOf("/:transport close", "/admin:transport close"))
			Expect(server.Of("/admin").Sockets()).To(BeEmpty())
		})
	})

	Describe("Close()", func() {
		It("closes every client", func() {
			first, second := newFakeConn("conn-1"), newFakeConn("conn-2")
			server.HandleConnection(first)
			server.HandleConnection(second)

			Expect(server.Close()).To(Succeed())

			Expect(first.CloseCalls()).To(Equal(1))
			Expect(second.CloseCalls()).To(Equal(1))
			Expect(server.Clients()).To(Equal(0))
		})
	})

	Describe("over engine.io", func() {
		var (
			ts   *httptest.Server
			ws   *websocket.Conn
			read func() (int, string)
		)

		BeforeEach(func() {
			server.OnConnect(func(s *sio.Socket) {
				s.On("echo", func(data ...interface{}) {
					if ack, ok := data[len(data)-1].(func(...interface{})); ok {
						ack(data[:len(data)-1]...)
					}
				})
			})

			ts = httptest.NewServer(server)

			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
			var err error
			ws, _, err = websocket.DefaultDialer.Dial(url, nil)
			Expect(err).To(Succeed())

			read = func() (int, string) {
				ws.SetReadDeadline(time.Now().Add(2 * time.Second))
				messageType, data, err := ws.ReadMessage()
				Expect(err).To(Succeed())
				return messageType, string(data)
			}
		})

		AfterEach(func() {
			ws.Close()
			ts.Close()
		})

		It("completes the handshake and joins the root namespace", func() {
			_, handshake := read()
			Expect(handshake).To(HavePrefix(`0{"sid":`))

			_, connect := read()
			Expect(connect).To(HavePrefix(`40{"sid":`))
		})

		It("acks events including binary attachments", func() {
			read()
			read()

			Expect(ws.WriteMessage(websocket.TextMessage, []byte(`451-3["echo","x",{"_placeholder":true,"num":0}]`))).To(Succeed())
			Expect(ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2})).To(Succeed())

			messageType, text := read()
			Expect(messageType).To(Equal(websocket.TextMessage))
			Expect(text).To(Equal(`461-3["x",{"_placeholder":true,"num":0}]`))

			messageType, blob := read()
			Expect(messageType).To(Equal(websocket.BinaryMessage))
			Expect([]byte(blob)).To(Equal([]byte{1, 2}))
		})

		It("answers a malformed packet with an error and closes", func() {
			read()
			read()

			Expect(ws.WriteMessage(websocket.TextMessage, []byte("49"))).To(Succeed())

			_, text := read()
			Expect(text).To(Equal(`44"parse error"`))

			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := ws.ReadMessage()
			Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
			Eventually(server.Clients).Should(Equal(0))
		})

		It("rejects requests outside the socket.io path", func() {
			resp, err := http.Get(ts.URL + "/other")
			Expect(err).To(Succeed())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
