package wsio

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dermesser/eio/cancel"
	"github.com/dermesser/eio/fiber"
)

func serverFibre(t *testing.T) *fiber.Ctx {
	t.Helper()
	root, err := cancel.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	fc, err := fiber.New(root)
	if err != nil {
		t.Fatal(err)
	}
	return fc
}

type echoMessage struct {
	Text string `json:"text"`
}

func TestReadJSONThenWriteJSONRoundTrip(t *testing.T) {
	serverDone := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/s", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.CloseNow()

		fc := serverFibre(t)
		msg, err := ReadJSON[echoMessage](fc, r.Context(), conn)
		if err != nil {
			serverDone <- err
			return
		}

		serverDone <- WriteJSON(fc, r.Context(), conn, echoMessage{Text: "echo:" + msg.Text})
	})

	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)

	conn, _, err := websocket.Dial(t.Context(), "ws://"+s.Listener.Addr().String()+"/s", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	if err := wsjson.Write(t.Context(), conn, echoMessage{Text: "hello"}); err != nil {
		t.Fatalf("client write: %v", err)
	}

	var reply echoMessage
	if err := wsjson.Read(t.Context(), conn, &reply); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if reply.Text != "echo:hello" {
		t.Fatalf("got %q, want %q", reply.Text, "echo:hello")
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server side: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server handler never finished")
	}
}

func TestReadJSONReturnsCancelledWhenFibreCancelledFirst(t *testing.T) {
	serverDone := make(chan error, 1)
	serverReady := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/s", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.CloseNow()

		root, _ := cancel.New(nil)
		fc, _ := fiber.New(root)

		cause := errors.New("server shutting down")
		root.Cancel(cause)
		close(serverReady)

		_, err = ReadJSON[echoMessage](fc, r.Context(), conn)
		serverDone <- err
	})

	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)

	conn, _, err := websocket.Dial(t.Context(), "ws://"+s.Listener.Addr().String()+"/s", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	<-serverReady

	select {
	case err := <-serverDone:
		if _, ok := cancel.AsCancelled(err); !ok {
			t.Fatalf("got %v, want Cancelled once the fibre was already cancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadJSON never returned after cancellation")
	}
}
