// chatprobe is a manual websocket probe for the coordination protocol:
// it joins a session, optionally sends a message, and prints every frame
// the server pushes until the timeout elapses.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	serverURL := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	code := flag.String("code", "", "session code to join")
	staff := flag.Bool("staff", false, "join as staff instead of client")
	staffID := flag.String("staff-id", "", "staff identifier for -staff")
	lang := flag.String("lang", "vi", "client language tag")
	message := flag.String("message", "", "message to send after joining")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to listen for frames")

	flag.Parse()

	if *code == "" {
		flag.Usage()
		log.Fatal("a session code is required, pass -code")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *serverURL, err)
	}
	defer conn.Close()

	if *staff {
		emit(conn, "staff_join", map[string]string{"staffId": *staffID})
	}
	emit(conn, "join_session", map[string]string{
		"sessionCode": *code,
		"clientLang":  *lang,
	})
	if *message != "" {
		emit(conn, "send_message", map[string]string{
			"sessionCode": *code,
			"content":     *message,
		})
	}

	deadline := time.Now().Add(*timeout)
	conn.SetReadDeadline(deadline)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if time.Now().After(deadline) {
				return
			}
			log.Fatalf("read: %v", err)
		}
		fmt.Printf("<- %s %s\n", f.Event, string(f.Data))
	}
}

func emit(conn *websocket.Conn, event string, data any) {
	if err := conn.WriteJSON(frame{Event: event, Data: mustMarshal(data)}); err != nil {
		log.Fatalf("send %s: %v", event, err)
	}
	log.Printf("-> %s", event)
}

func mustMarshal(data any) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}
	return raw
}
