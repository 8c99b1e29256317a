package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type wsMessage struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// fall back to treating the raw payload as the question
			msg = wsMessage{Type: "question", Content: string(raw)}
		}

		s.handleChatMessage(r, conn, msg)
	}
}

func (s *Server) handleChatMessage(r *http.Request, conn *websocket.Conn, msg wsMessage) {
	question := strings.TrimSpace(msg.Content)
	if question == "" {
		s.sendMessage(conn, "error", "Question cannot be empty")
		return
	}

	ctx := r.Context()

	chunks, sources, err := s.retriever.Retrieve(ctx, question, 5, nil)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error querying documents: %v", err))
		return
	}

	contextStr := noDocumentsPlaceholder
	if len(chunks) > 0 {
		contextStr = strings.Join(chunks, "\n\n")
	}

	prompt := buildPrompt("", contextStr, "", question)

	stream, err := s.generator.AnswerStream(ctx, prompt, 0)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Error: %v", err))
		return
	}

	for chunk := range stream {
		if strings.HasPrefix(chunk, "Error:") {
			s.sendMessage(conn, "error", chunk)
			return
		}
		s.sendMessage(conn, "stream", chunk)
	}

	done := wsMessage{Type: "done", Data: sources}
	if err := conn.WriteJSON(done); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := wsMessage{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}
